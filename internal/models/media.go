package models

import (
	"time"

	"TrailSafe/pkg/util"

	"gorm.io/gorm"
)

// MediaAttachment 警报附加媒体（现场录音、照片），对象本体在对象存储
type MediaAttachment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	AlertID     string    `json:"alertId" gorm:"size:36;index"`
	ObjectKey   string    `json:"objectKey" gorm:"size:512"`
	Filename    string    `json:"filename" gorm:"size:255"`
	ContentType string    `json:"contentType" gorm:"size:128"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// CreateMediaAttachment 记录一条媒体附件
func CreateMediaAttachment(db *gorm.DB, m *MediaAttachment) error {
	if m.ID == "" {
		m.ID = util.NewID()
	}
	return db.Create(m).Error
}

// ListMediaAttachments 列出警报的全部媒体附件
func ListMediaAttachments(db *gorm.DB, alertID string) ([]MediaAttachment, error) {
	var items []MediaAttachment
	err := db.Where("alert_id = ?", alertID).Order("created_at ASC").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
