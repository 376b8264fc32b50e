package notification

import (
	"fmt"
	"net/smtp"
	"strings"
)

type MailConfig struct {
	Host     string
	Port     int64
	Username string
	Password string
	From     string
}

// MailSender 便于替换/注入的发送接口
type MailSender interface {
	Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

type smtpSender struct{}

func (smtpSender) Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

type MailNotification struct {
	cfg    MailConfig
	sender MailSender
}

func NewMailNotification(cfg MailConfig) *MailNotification {
	return &MailNotification{cfg: cfg, sender: smtpSender{}}
}

// NewMailNotificationWithSender 注入自定义发送实现（测试用）
func NewMailNotificationWithSender(cfg MailConfig, sender MailSender) *MailNotification {
	return &MailNotification{cfg: cfg, sender: sender}
}

// SendAlertEmail 向紧急联系人发送告警邮件
func (m *MailNotification) SendAlertEmail(to, subject, body string) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("mail host not configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	return m.sender.Send(addr, auth, m.cfg.From, []string{to}, []byte(b.String()))
}
