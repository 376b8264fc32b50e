package safety

import (
	"TrailSafe/internal/models"
	"TrailSafe/pkg/errors"
)

// validTransitions 状态机合法迁移表。状态单调前进：
// grace_period 为初态，stealth 非终态（警报保持打开），
// false_alarm / escalated / manually_resolved 为终态。
var validTransitions = map[models.AlertState][]models.AlertState{
	models.StateGracePeriod: {
		models.StateFalseAlarm,
		models.StateStealth,
		models.StateEscalated,
		models.StateManuallyResolved,
	},
	models.StateStealth: {
		models.StateManuallyResolved,
	},
}

// transitionAlert 执行受保护的状态迁移，非法迁移返回 InvalidState
func transitionAlert(alert *models.SafetyAlert, to models.AlertState) error {
	for _, allowed := range validTransitions[alert.State] {
		if allowed == to {
			alert.State = to
			return nil
		}
	}
	return errors.WithCodef(errors.CodeInvalidState,
		"invalid alert transition: %s -> %s", alert.State, to)
}
