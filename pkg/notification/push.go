package notification

import (
	"context"
	"fmt"
)

type PushConfig struct {
	AppKey       string
	MasterSecret string
}

type PushClient interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

type Push struct {
	cfg PushConfig
	cli PushClient
}

func NewPush(cfg PushConfig, cli PushClient) *Push { return &Push{cfg: cfg, cli: cli} }

// PushToAlias 按别名（联系人 ID）推送告警
func (p *Push) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if p.cli == nil {
		return fmt.Errorf("PushClient not configured")
	}
	aud := map[string]interface{}{"alias": alias}
	return p.cli.Push(ctx, title, content, aud, extras)
}
