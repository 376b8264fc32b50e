package constants

// gin Context 注入字段名
const (
	DbField      = "db"
	ProfileField = "profile_id"
	LangField    = "lang"
)

// 信号事件名
const (
	SigAlertOpened    = "alert.opened"
	SigAlertEscalated = "alert.escalated"
	SigAlertResolved  = "alert.resolved"
)
