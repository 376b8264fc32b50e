package notification

import (
	"context"
	"fmt"
)

type SMSConfig struct {
	AccessKeyId     string
	AccessKeySecret string
	SignName        string
	TemplateCode    string
	Endpoint        string
}

// SMSClient 便于替换/注入的发送接口（适配真实 SDK）
type SMSClient interface {
	Send(ctx context.Context, phone, sign, template string, params map[string]string) error
}

type SMS struct {
	cfg SMSConfig
	cli SMSClient
}

func NewSMS(cfg SMSConfig, cli SMSClient) *SMS {
	return &SMS{cfg: cfg, cli: cli}
}

// SendAlert 向紧急联系人发送告警短信
func (s *SMS) SendAlert(ctx context.Context, phone, message string) error {
	if s.cli == nil {
		return fmt.Errorf("SMSClient not configured")
	}
	params := map[string]string{"message": message}
	return s.cli.Send(ctx, phone, s.cfg.SignName, s.cfg.TemplateCode, params)
}
