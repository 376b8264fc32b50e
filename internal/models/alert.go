package models

import (
	"time"

	"TrailSafe/pkg/util"

	"gorm.io/gorm"
)

// AlertState 警报生命周期状态，状态单调前进不可回退
type AlertState string

const (
	StateGracePeriod      AlertState = "grace_period"
	StateFalseAlarm       AlertState = "false_alarm"
	StateStealth          AlertState = "stealth"
	StateEscalated        AlertState = "escalated"
	StateManuallyResolved AlertState = "manually_resolved"
)

// Terminal 报告该状态是否为终态（stealth 保持打开，继续监控）
func (s AlertState) Terminal() bool {
	switch s {
	case StateFalseAlarm, StateEscalated, StateManuallyResolved:
		return true
	}
	return false
}

// AlertKind 警报触发类别
type AlertKind string

const (
	KindRouteDeviation  AlertKind = "route_deviation"
	KindManualTrigger   AlertKind = "manual_trigger"
	KindTamperDetection AlertKind = "tamper_detection"
	KindPanic           AlertKind = "panic"
)

// Severity 警报严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// 升级原因
const (
	ReasonGracePeriodExpired  = "grace_period_expired"
	ReasonMaxPasswordAttempts = "max_password_attempts_reached"
	ReasonManualEscalation    = "manual_escalation"
)

// SafetyAlert 安全警报。创建后只通过生命周期变更，从不删除。
type SafetyAlert struct {
	ID             string  `json:"id" gorm:"primaryKey;size:36"`
	SessionID      *string `json:"sessionId,omitempty" gorm:"size:36;index"`
	ProfileID      string  `json:"profileId" gorm:"size:36;index"`
	IncidentNumber string  `json:"incidentNumber" gorm:"size:32;uniqueIndex"`

	Kind     AlertKind  `json:"kind" gorm:"size:32"`
	Severity Severity   `json:"severity" gorm:"size:16"`
	State    AlertState `json:"state" gorm:"size:32;index"`

	TriggerLocation GeoPoint `json:"triggerLocation" gorm:"serializer:json"`
	DeviationMeters *float64 `json:"deviationMeters,omitempty"`

	GracePeriodEnd   *time.Time `json:"gracePeriodEnd,omitempty" gorm:"index"`
	PasswordAttempts int        `json:"passwordAttempts"`
	MaxAttempts      int        `json:"maxAttempts" gorm:"default:3"`

	StealthMode         bool   `json:"stealthMode"`
	ContactsNotified    bool   `json:"contactsNotified"`
	AuthoritiesNotified bool   `json:"authoritiesNotified"`
	EscalationReason    string `json:"escalationReason,omitempty" gorm:"size:64"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty" gorm:"size:64"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CreateSafetyAlert 创建警报
func CreateSafetyAlert(db *gorm.DB, alert *SafetyAlert) error {
	if alert.ID == "" {
		alert.ID = util.NewID()
	}
	if alert.IncidentNumber == "" {
		alert.IncidentNumber = util.NewIncidentNumber()
	}
	return db.Create(alert).Error
}

// GetSafetyAlert 获取警报
func GetSafetyAlert(db *gorm.DB, id string) (*SafetyAlert, error) {
	var alert SafetyAlert
	if err := db.First(&alert, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// SaveSafetyAlert 回写警报全量状态
func SaveSafetyAlert(db *gorm.DB, alert *SafetyAlert) error {
	return db.Save(alert).Error
}

// GetOpenAlertBySession 查询会话上未关闭的警报（grace_period 或 stealth）
func GetOpenAlertBySession(db *gorm.DB, sessionID string) (*SafetyAlert, error) {
	var alert SafetyAlert
	err := db.Where("session_id = ? AND state IN ?", sessionID,
		[]AlertState{StateGracePeriod, StateStealth}).First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListOpenAlertsByProfile 列出档案下所有未关闭警报
func ListOpenAlertsByProfile(db *gorm.DB, profileID string) ([]SafetyAlert, error) {
	var alerts []SafetyAlert
	err := db.Where("profile_id = ? AND state IN ?", profileID,
		[]AlertState{StateGracePeriod, StateStealth}).
		Order("created_at DESC").Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListGraceExpiredAlerts 列出宽限期已过但仍停留在 grace_period 的警报，
// 供 cron 兜底扫描使用（进程重启后恢复定时语义）
func ListGraceExpiredAlerts(db *gorm.DB, now time.Time) ([]SafetyAlert, error) {
	var alerts []SafetyAlert
	err := db.Where("state = ? AND grace_period_end IS NOT NULL AND grace_period_end <= ?",
		StateGracePeriod, now).Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}
