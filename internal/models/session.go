package models

import (
	"time"

	"TrailSafe/pkg/util"

	"gorm.io/gorm"
)

// MonitoringSession 受守护的行程会话。observedPath 只增不减；
// deviation_already_flagged 保证一次连续偏航只自动开一个警报。
type MonitoringSession struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	ProfileID string `json:"profileId" gorm:"size:36;index"`

	PlannedPath  GeoPath `json:"plannedPath" gorm:"serializer:json"`
	ObservedPath GeoPath `json:"observedPath" gorm:"serializer:json"`

	DeviationThresholdMeters float64 `json:"deviationThresholdMeters"`
	Active                   bool    `json:"active" gorm:"index"`
	DeviationAlreadyFlagged  bool    `json:"deviationAlreadyFlagged"`

	Destination      string     `json:"destination" gorm:"size:255"`
	EstimatedArrival *time.Time `json:"estimatedArrival,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CreateMonitoringSession 创建行程会话
func CreateMonitoringSession(db *gorm.DB, session *MonitoringSession) error {
	if session.ID == "" {
		session.ID = util.NewID()
	}
	return db.Create(session).Error
}

// GetMonitoringSession 获取行程会话
func GetMonitoringSession(db *gorm.DB, id string) (*MonitoringSession, error) {
	var session MonitoringSession
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveSessionObservation 持久化新的观测点与偏航标记。
// observedPath 整列回写，路径在内存中已追加。
func SaveSessionObservation(db *gorm.DB, session *MonitoringSession) error {
	return db.Model(session).
		Select("ObservedPath", "DeviationAlreadyFlagged").
		Updates(session).Error
}

// StopMonitoringSession 结束行程会话；已打开的警报不受影响
func StopMonitoringSession(db *gorm.DB, id string) error {
	return db.Model(&MonitoringSession{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// ListActiveSessionsByProfile 列出档案下的活动会话
func ListActiveSessionsByProfile(db *gorm.DB, profileID string) ([]MonitoringSession, error) {
	var sessions []MonitoringSession
	if err := db.Where("profile_id = ? AND active = ?", profileID, true).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
