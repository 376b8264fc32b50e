package models

import (
	"time"

	"gorm.io/gorm"
)

// 审计动作
const (
	AuditAlertOpened         = "alert_opened"
	AuditPasswordFailed      = "password_failed"
	AuditFalseAlarmConfirmed = "false_alarm_confirmed"
	AuditStealthActivated    = "stealth_activated"
	AuditManuallyResolved    = "manually_resolved"
	AuditEscalated           = "escalated"
	AuditContactsNotified    = "contacts_notified"
	AuditAuthoritiesNotified = "authorities_notified"
	AuditMediaAttached       = "media_attached"
)

// AuditEntry 审计流水，只追加，永不更新或删除
type AuditEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AlertID   string    `json:"alertId" gorm:"size:36;index"`
	Action    string    `json:"action" gorm:"size:64"`
	Details   string    `json:"details" gorm:"size:1024"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// AppendAuditEntry 追加一条审计记录
func AppendAuditEntry(db *gorm.DB, alertID, action, details string) error {
	entry := AuditEntry{
		AlertID: alertID,
		Action:  action,
		Details: details,
	}
	return db.Create(&entry).Error
}

// ListAuditEntries 按时间顺序返回某警报的审计流水
func ListAuditEntries(db *gorm.DB, alertID string) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := db.Where("alert_id = ?", alertID).
		Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Migrate 自动迁移全部数据表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SafetyProfile{},
		&EmergencyContact{},
		&MonitoringSession{},
		&SafetyAlert{},
		&AuditEntry{},
		&MediaAttachment{},
	)
}
