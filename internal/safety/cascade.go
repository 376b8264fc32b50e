package safety

import (
	"context"
	"fmt"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/pkg/i18n"
	"TrailSafe/pkg/logger"
	"TrailSafe/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transports 通知通道接口，各通道尽力而为、互不阻塞
type Transports interface {
	SendSMS(ctx context.Context, phone, message string) error
	SendEmail(ctx context.Context, to, subject, body string) error
	SendPush(ctx context.Context, recipientID, title, body string) error
}

// AuthorityNotifier 模拟报警接口，按严重程度分发
type AuthorityNotifier interface {
	Notify(ctx context.Context, alert *models.SafetyAlert) error
}

// LoggedAuthorityNotifier 默认实现：结构化日志模拟接警，
// critical 级别标注需要立即响应
type LoggedAuthorityNotifier struct{}

func (LoggedAuthorityNotifier) Notify(ctx context.Context, alert *models.SafetyAlert) error {
	fields := []zap.Field{
		zap.String("incident", alert.IncidentNumber),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("latitude", alert.TriggerLocation.Latitude),
		zap.Float64("longitude", alert.TriggerLocation.Longitude),
	}
	if alert.Severity == models.SeverityCritical {
		logger.Error("authorities notified: IMMEDIATE RESPONSE REQUIRED", fields...)
	} else {
		logger.Warn("authorities notified", fields...)
	}
	return nil
}

// Tally 级联结果统计，通道独立计数
type Tally struct {
	SMSSent     int `json:"smsSent"`
	SMSFailed   int `json:"smsFailed"`
	EmailSent   int `json:"emailSent"`
	EmailFailed int `json:"emailFailed"`
	PushSent    int `json:"pushSent"`
	PushFailed  int `json:"pushFailed"`
}

// Cascade 联系人通知级联。只通知 active 联系人，按 priority
// 升序稳定排序；单通道失败不阻断其余通道或后续联系人。
type Cascade struct {
	transports  Transports
	authorities AuthorityNotifier
	translator  *i18n.I18nSupport
	metrics     *metrics.Metrics

	// 联系人之间的发送间隔（对运营商的限速礼让，非正确性要求）
	contactDelay time.Duration
	sleep        func(time.Duration)
}

func NewCascade(transports Transports, authorities AuthorityNotifier, translator *i18n.I18nSupport, m *metrics.Metrics, contactDelay time.Duration) *Cascade {
	return &Cascade{
		transports:   transports,
		authorities:  authorities,
		translator:   translator,
		metrics:      m,
		contactDelay: contactDelay,
		sleep:        time.Sleep,
	}
}

// SetSleepFunc 注入休眠实现，测试中替换为空操作避免真实等待
func (c *Cascade) SetSleepFunc(fn func(time.Duration)) {
	c.sleep = fn
}

// Run 执行级联。无论单条投递成败，完成后一律置位
// contactsNotified / authoritiesNotified 并写审计摘要。
func (c *Cascade) Run(ctx context.Context, db *gorm.DB, profile *models.SafetyProfile, alert *models.SafetyAlert) Tally {
	var tally Tally

	lang := profile.VoiceLanguage
	data := map[string]interface{}{
		"Name":      profile.UserID,
		"Latitude":  fmt.Sprintf("%.5f", alert.TriggerLocation.Latitude),
		"Longitude": fmt.Sprintf("%.5f", alert.TriggerLocation.Longitude),
		"Severity":  string(alert.Severity),
		"Incident":  alert.IncidentNumber,
	}

	contacts := profile.ActiveContactsByPriority()
	for i, contact := range contacts {
		if i > 0 && c.contactDelay > 0 {
			c.sleep(c.contactDelay)
		}
		c.notifyContact(ctx, contact, lang, data, &tally)
	}

	if err := c.authorities.Notify(ctx, alert); err != nil {
		logger.Warn("authority notification failed",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}

	// 级联完成独立于投递成败
	err := db.Model(&models.SafetyAlert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]any{
			"contacts_notified":    true,
			"authorities_notified": true,
		}).Error
	if err != nil {
		logger.Error("failed to persist cascade completion",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}
	alert.ContactsNotified = true
	alert.AuthoritiesNotified = true

	summary := fmt.Sprintf(
		"contacts=%d sms=%d/%d email=%d/%d push=%d/%d",
		len(contacts),
		tally.SMSSent, tally.SMSSent+tally.SMSFailed,
		tally.EmailSent, tally.EmailSent+tally.EmailFailed,
		tally.PushSent, tally.PushSent+tally.PushFailed,
	)
	if err := models.AppendAuditEntry(db, alert.ID, models.AuditContactsNotified, summary); err != nil {
		logger.Error("failed to append cascade audit", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	if err := models.AppendAuditEntry(db, alert.ID, models.AuditAuthoritiesNotified,
		"severity="+string(alert.Severity)); err != nil {
		logger.Error("failed to append authority audit", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	return tally
}

// notifyContact 按 短信 -> 邮件 -> 推送 依次尝试，通道相互独立
func (c *Cascade) notifyContact(ctx context.Context, contact models.EmergencyContact, lang string, data map[string]interface{}, tally *Tally) {
	data["Contact"] = contact.Name

	if contact.Phone != "" {
		msg := c.translator.T(lang, "alert.sms", data)
		if err := c.transports.SendSMS(ctx, contact.Phone, msg); err != nil {
			tally.SMSFailed++
			c.recordChannel("sms", false)
			logger.Warn("sms send failed", zap.String("contact", contact.Name), zap.Error(err))
		} else {
			tally.SMSSent++
			c.recordChannel("sms", true)
		}
	}

	if contact.Email != "" {
		subject := c.translator.T(lang, "alert.email.subject", data)
		body := c.translator.T(lang, "alert.email.body", data)
		if err := c.transports.SendEmail(ctx, contact.Email, subject, body); err != nil {
			tally.EmailFailed++
			c.recordChannel("email", false)
			logger.Warn("email send failed", zap.String("contact", contact.Name), zap.Error(err))
		} else {
			tally.EmailSent++
			c.recordChannel("email", true)
		}
	}

	// 推送目标为联系人 ID 对应的合成接收端
	title := c.translator.T(lang, "alert.push.title", data)
	body := c.translator.T(lang, "alert.push.body", data)
	if err := c.transports.SendPush(ctx, "contact:"+contact.ID, title, body); err != nil {
		tally.PushFailed++
		c.recordChannel("push", false)
		logger.Warn("push send failed", zap.String("contact", contact.Name), zap.Error(err))
	} else {
		tally.PushSent++
		c.recordChannel("push", true)
	}
}

func (c *Cascade) recordChannel(channel string, ok bool) {
	if c.metrics != nil {
		c.metrics.RecordNotification(channel, ok)
	}
}
