package notification

import "context"

// AlertTransports 聚合短信/邮件/推送三个通道，
// 供通知级联以统一接口调用
type AlertTransports struct {
	sms  *SMS
	mail *MailNotification
	push *Push
}

func NewAlertTransports(sms *SMS, mail *MailNotification, push *Push) *AlertTransports {
	return &AlertTransports{sms: sms, mail: mail, push: push}
}

func (t *AlertTransports) SendSMS(ctx context.Context, phone, message string) error {
	return t.sms.SendAlert(ctx, phone, message)
}

func (t *AlertTransports) SendEmail(ctx context.Context, to, subject, body string) error {
	return t.mail.SendAlertEmail(to, subject, body)
}

func (t *AlertTransports) SendPush(ctx context.Context, recipientID, title, body string) error {
	return t.push.PushToAlias(ctx, []string{recipientID}, title, body, nil)
}
