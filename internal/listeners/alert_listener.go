package listeners

import (
	"TrailSafe/internal/models"
	constants "TrailSafe/pkg/constant"
	"TrailSafe/pkg/logger"
	"TrailSafe/pkg/sse"
	"TrailSafe/pkg/util"

	"go.uber.org/zap"
)

// RegisterAlertListeners 订阅警报生命周期信号，转发到 SSE 事件流。
// 引擎只发信号，不感知有哪些看护端在听。
func RegisterAlertListeners(hub *sse.Hub) {
	util.Sig().Connect(constants.SigAlertOpened, func(sender any, params ...any) {
		if alert := alertParam(params); alert != nil {
			hub.PublishToProfile(alert.ProfileID, "alert.opened", alert)
		}
	})

	util.Sig().Connect(constants.SigAlertEscalated, func(sender any, params ...any) {
		alert := alertParam(params)
		if alert == nil {
			return
		}
		hub.PublishToProfile(alert.ProfileID, "alert.escalated", alert)
		logger.Warn("alert escalation broadcast",
			zap.String("alert_id", alert.ID),
			zap.Int("subscribers", hub.SubscriberCount(alert.ProfileID)))
	})

	util.Sig().Connect(constants.SigAlertResolved, func(sender any, params ...any) {
		if alert := alertParam(params); alert != nil {
			hub.PublishToProfile(alert.ProfileID, "alert.resolved", alert)
		}
	})
}

func alertParam(params []any) *models.SafetyAlert {
	if len(params) == 0 {
		return nil
	}
	alert, _ := params[0].(*models.SafetyAlert)
	return alert
}
