package util

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID 生成全局唯一 ID
func NewID() string {
	return uuid.NewString()
}

// NewIncidentNumber 生成对外展示的事件编号，如 INC-20260829-1A2B3C
func NewIncidentNumber() string {
	u := uuid.New()
	return fmt.Sprintf("INC-%s-%X", time.Now().UTC().Format("20060102"), u[:3])
}
