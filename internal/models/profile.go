package models

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"time"

	"TrailSafe/pkg/util"

	"gorm.io/gorm"
)

// SafetyProfile 旅行者安全档案，开启守护时创建，注销账号时级联删除
type SafetyProfile struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	UserID string `json:"userId" gorm:"size:36;index"`

	// 完整口令与暗示口令（胁迫口令），均为 哈希+盐 存储，pepper 由部署配置提供
	FullCredentialHash    string `json:"-" gorm:"size:128"`
	FullCredentialSalt    string `json:"-" gorm:"size:64"`
	PartialCredentialHash string `json:"-" gorm:"size:128"`
	PartialCredentialSalt string `json:"-" gorm:"size:64"`

	// 布尔列不带 default 标签：gorm 会在 insert 时省略零值列，
	// default:true 会把显式的 false 写成 true
	Enabled           bool   `json:"enabled"`
	VoiceLanguage     string `json:"voiceLanguage" gorm:"size:16;default:en"`
	BackgroundAllowed bool   `json:"backgroundAllowed"`

	Contacts []EmergencyContact `json:"contacts" gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// EmergencyContact 紧急联系人，priority 越小越先通知
type EmergencyContact struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	ProfileID    string `json:"profileId" gorm:"size:36;index"`
	Name         string `json:"name" gorm:"size:128"`
	Phone        string `json:"phone,omitempty" gorm:"size:32"`
	Email        string `json:"email,omitempty" gorm:"size:255"`
	Relationship string `json:"relationship" gorm:"size:64"`
	Priority     int    `json:"priority"`
	Active       bool   `json:"active"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// NewSalt 生成 16 字节随机盐
func NewSalt() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateSafetyProfile 创建安全档案
func CreateSafetyProfile(db *gorm.DB, profile *SafetyProfile) error {
	if profile.ID == "" {
		profile.ID = util.NewID()
	}
	for i := range profile.Contacts {
		if profile.Contacts[i].ID == "" {
			profile.Contacts[i].ID = util.NewID()
		}
	}
	return db.Create(profile).Error
}

// GetSafetyProfile 获取安全档案（含联系人）
func GetSafetyProfile(db *gorm.DB, id string) (*SafetyProfile, error) {
	var profile SafetyProfile
	if err := db.Preload("Contacts").First(&profile, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteSafetyProfile 删除安全档案，级联清理会话与警报
func DeleteSafetyProfile(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile_id = ?", id).Delete(&EmergencyContact{}).Error; err != nil {
			return err
		}
		if err := tx.Where("profile_id = ?", id).Delete(&MonitoringSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("profile_id = ?", id).Delete(&SafetyAlert{}).Error; err != nil {
			return err
		}
		return tx.Delete(&SafetyProfile{}, "id = ?", id).Error
	})
}

// AddEmergencyContact 添加紧急联系人
func AddEmergencyContact(db *gorm.DB, contact *EmergencyContact) error {
	if contact.ID == "" {
		contact.ID = util.NewID()
	}
	return db.Create(contact).Error
}

// ActiveContactsByPriority 过滤 active 联系人并按 priority 升序稳定排序
func (p *SafetyProfile) ActiveContactsByPriority() []EmergencyContact {
	active := make([]EmergencyContact, 0, len(p.Contacts))
	for _, c := range p.Contacts {
		if c.Active {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}
