package safety

import (
	"TrailSafe/internal/models"
	"TrailSafe/pkg/geo"
)

// Action 偏航评估动作，紧急程度递增：continue < grace_period < trigger_alert
type Action string

const (
	ActionContinue     Action = "continue"
	ActionGracePeriod  Action = "grace_period"
	ActionTriggerAlert Action = "trigger_alert"
)

// 偏航分层倍数：超过 3 倍阈值立即开警报，超过 1.5 倍进入静默观察层
const (
	tierAlertFactor = 3.0
	tierWatchFactor = 1.5
)

// Evaluation 单次偏航评估结果。纯值，无副作用。
type Evaluation struct {
	MinDistanceMeters float64 `json:"minDistanceMeters"`
	Deviated          bool    `json:"deviated"`
	Action            Action  `json:"action"`
}

// EvaluateDeviation 计算当前位置到规划路径的最小距离并分层。
// 最小距离取（a）到每个路径点的距离与（b）到每段相邻线段垂距的最小值。
// 规划路径为空时视为未偏航。
func EvaluateDeviation(current geo.Point, planned []geo.Point, thresholdMeters float64) Evaluation {
	if len(planned) == 0 {
		return Evaluation{Action: ActionContinue}
	}

	minDistance := geo.HaversineMeters(current, planned[0])
	for _, p := range planned[1:] {
		if d := geo.HaversineMeters(current, p); d < minDistance {
			minDistance = d
		}
	}
	for i := 0; i+1 < len(planned); i++ {
		if d := geo.PointToSegmentMeters(current, planned[i], planned[i+1]); d < minDistance {
			minDistance = d
		}
	}

	ev := Evaluation{
		MinDistanceMeters: minDistance,
		Deviated:          minDistance > thresholdMeters,
		Action:            ActionContinue,
	}
	if !ev.Deviated {
		return ev
	}

	// 分层只在已偏航时生效；1.5 倍阈值以内按噪声处理
	switch {
	case minDistance > thresholdMeters*tierAlertFactor:
		ev.Action = ActionTriggerAlert
	case minDistance > thresholdMeters*tierWatchFactor:
		ev.Action = ActionGracePeriod
	}
	return ev
}

// SeverityForDeviation 按偏航距离定严重程度
func SeverityForDeviation(deviationMeters float64) models.Severity {
	switch {
	case deviationMeters < 1000:
		return models.SeverityLow
	case deviationMeters < 2000:
		return models.SeverityMedium
	case deviationMeters < 5000:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}
