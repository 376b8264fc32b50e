package safety

import (
	"context"
	"fmt"
	"time"

	"TrailSafe/internal/models"
	constants "TrailSafe/pkg/constant"
	"TrailSafe/pkg/errors"
	"TrailSafe/pkg/logger"
	"TrailSafe/pkg/metrics"
	"TrailSafe/pkg/scheduler"
	"TrailSafe/pkg/util"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 引擎参数
type Options struct {
	GracePeriod        time.Duration // 宽限期时长，服务端权威值
	MaxCredentialTries int           // 口令最大尝试次数
	Pepper             string        // 口令哈希 pepper，部署配置提供
	SyncCascade        bool          // 同步执行级联（测试用）
}

// Service 安全引擎。偏航检测、警报生命周期与通知级联的编排层。
// 同一会话/警报上的操作经 keyedLocks 串行化。
type Service struct {
	db       *gorm.DB
	opts     Options
	verifier CredentialVerifier
	cascade  *Cascade
	sched    *scheduler.Scheduler
	metrics  *metrics.Metrics
	locks    *keyedLocks
}

func NewService(db *gorm.DB, opts Options, verifier CredentialVerifier, cascade *Cascade, sched *scheduler.Scheduler, m *metrics.Metrics) *Service {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 2 * time.Minute
	}
	if opts.MaxCredentialTries <= 0 {
		opts.MaxCredentialTries = 3
	}
	return &Service{
		db:       db,
		opts:     opts,
		verifier: verifier,
		cascade:  cascade,
		sched:    sched,
		metrics:  m,
		locks:    newKeyedLocks(),
	}
}

// PositionReport 一次位置上报的处理结果
type PositionReport struct {
	Evaluation Evaluation          `json:"evaluation"`
	Alert      *models.SafetyAlert `json:"alert,omitempty"`
}

// CredentialOutcome 一次口令提交的处理结果
type CredentialOutcome struct {
	Result            string              `json:"result"` // false_alarm / stealth / rejected / escalated
	AttemptsRemaining int                 `json:"attemptsRemaining"`
	Alert             *models.SafetyAlert `json:"alert"`
}

const (
	OutcomeFalseAlarm = "false_alarm"
	OutcomeStealth    = "stealth"
	OutcomeRejected   = "rejected"
	OutcomeEscalated  = "escalated"
)

// StartSession 开启行程守护会话
func (s *Service) StartSession(ctx context.Context, profileID string, planned models.GeoPath, thresholdMeters float64, destination string, eta *time.Time) (*models.MonitoringSession, error) {
	if thresholdMeters <= 0 {
		return nil, errors.WithCode(errors.CodeInvalidInput, "deviation threshold must be positive")
	}
	for i, p := range planned {
		if !p.Valid() {
			return nil, errors.WithCodef(errors.CodeInvalidInput, "planned path point %d out of range", i)
		}
	}
	if _, err := models.GetSafetyProfile(s.db, profileID); err != nil {
		return nil, errors.WrapCode(errors.CodeInvalidInput, err, "unknown safety profile")
	}

	session := &models.MonitoringSession{
		ProfileID:                profileID,
		PlannedPath:              planned,
		ObservedPath:             models.GeoPath{},
		DeviationThresholdMeters: thresholdMeters,
		Active:                   true,
		Destination:              destination,
		EstimatedArrival:         eta,
	}
	if err := models.CreateMonitoringSession(s.db, session); err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to create session")
	}
	logger.Info("monitoring session started",
		zap.String("session_id", session.ID),
		zap.String("profile_id", profileID),
		zap.Float64("threshold_m", thresholdMeters))
	return session, nil
}

// StopSession 结束行程守护；会话上已打开的警报保持原状
func (s *Service) StopSession(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock("session:" + sessionID)
	defer unlock()

	session, err := models.GetMonitoringSession(s.db, sessionID)
	if err != nil {
		return errors.WrapCode(errors.CodeInvalidInput, err, "unknown session")
	}
	if !session.Active {
		return nil
	}
	if err := models.StopMonitoringSession(s.db, sessionID); err != nil {
		return errors.WrapCode(errors.CodePersistenceFailure, err, "failed to stop session")
	}
	logger.Info("monitoring session stopped", zap.String("session_id", sessionID))
	return nil
}

// ReportPosition 处理一次位置上报：追加观测点、评估偏航、必要时开警报。
// deviation_already_flagged 置位后同一会话不再自动开第二个警报。
func (s *Service) ReportPosition(ctx context.Context, sessionID string, point models.GeoPoint) (*PositionReport, error) {
	if !point.Valid() {
		return nil, errors.WithCode(errors.CodeInvalidInput, "position out of range")
	}

	unlock := s.locks.Lock("session:" + sessionID)
	defer unlock()

	session, err := models.GetMonitoringSession(s.db, sessionID)
	if err != nil {
		return nil, errors.WrapCode(errors.CodeInvalidInput, err, "unknown session")
	}
	if !session.Active {
		return nil, errors.WithCode(errors.CodeSessionClosed, "session is no longer active")
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now()
	}
	session.ObservedPath = append(session.ObservedPath, point)

	ev := EvaluateDeviation(point.Point(), session.PlannedPath.Points(), session.DeviationThresholdMeters)
	if s.metrics != nil {
		s.metrics.RecordDeviationEvaluation(string(ev.Action))
	}

	report := &PositionReport{Evaluation: ev}

	switch ev.Action {
	case ActionGracePeriod:
		// 中间层只观察：记录日志与指标，不开警报
		logger.Warn("deviation watch",
			zap.String("session_id", sessionID),
			zap.Float64("distance_m", ev.MinDistanceMeters),
			zap.Float64("threshold_m", session.DeviationThresholdMeters))

	case ActionTriggerAlert:
		if !session.DeviationAlreadyFlagged {
			session.DeviationAlreadyFlagged = true
			alert, err := s.openDeviationAlert(session, point, ev.MinDistanceMeters)
			switch {
			case err == nil:
				report.Alert = alert
				return report, nil
			case errors.IsCode(err, errors.CodeInvalidState):
				// 会话上已有手动开的警报在覆盖，不再叠开；
				// 标记保持未置位，留给该警报关闭后的下一次偏航
				session.DeviationAlreadyFlagged = false
				logger.Warn("deviation trigger while session already covered by an open alert",
					zap.String("session_id", sessionID))
			default:
				return nil, err
			}
		}
	}

	if err := models.SaveSessionObservation(s.db, session); err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist observation")
	}
	return report, nil
}

// openDeviationAlert 偏航开警报。警报与 deviation_already_flagged
// 同一事务落库：分开写的话观测保存失败后重试会再开一个警报。
func (s *Service) openDeviationAlert(session *models.MonitoringSession, point models.GeoPoint, deviationMeters float64) (*models.SafetyAlert, error) {
	var alert *models.SafetyAlert
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		alert, err = s.persistAlert(tx, session.ProfileID, &session.ID, models.KindRouteDeviation,
			point, SeverityForDeviation(deviationMeters), &deviationMeters)
		if err != nil {
			return err
		}
		if err := models.SaveSessionObservation(tx, session); err != nil {
			return errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist observation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announceAlert(alert)
	return alert, nil
}

// TriggerManualAlert 手动触发警报（panic / manual_trigger / tamper_detection）。
// panic 直接 critical 并立即升级，跳过宽限期。
// 挂在会话上的手动警报与偏航警报共用"一个会话最多一个未关闭警报"约束。
func (s *Service) TriggerManualAlert(ctx context.Context, profileID string, sessionID *string, kind models.AlertKind, location models.GeoPoint) (*models.SafetyAlert, error) {
	if !location.Valid() {
		return nil, errors.WithCode(errors.CodeInvalidInput, "position out of range")
	}
	if _, err := models.GetSafetyProfile(s.db, profileID); err != nil {
		return nil, errors.WrapCode(errors.CodeInvalidInput, err, "unknown safety profile")
	}
	if sessionID != nil {
		unlock := s.locks.Lock("session:" + *sessionID)
		defer unlock()
	}

	severity := models.SeverityHigh
	if kind == models.KindPanic {
		severity = models.SeverityCritical
	}
	alert, err := s.persistAlert(s.db, profileID, sessionID, kind, location, severity, nil)
	if err != nil {
		return nil, err
	}
	s.announceAlert(alert)

	if kind == models.KindPanic {
		unlock := s.locks.Lock("alert:" + alert.ID)
		defer unlock()
		if err := s.escalate(ctx, alert, models.ReasonManualEscalation, false); err != nil {
			return nil, err
		}
	}
	return alert, nil
}

// SubmitCredential 处理口令提交。调用方声明提交的是哪类口令：
// isPartial=false 只对完整口令校验，通过 -> false_alarm；
// isPartial=true 只对暗示口令校验，通过 -> stealth。
// 选错类别提交也计一次失败，连续错满 MaxAttempts 次强制 critical 升级。
func (s *Service) SubmitCredential(ctx context.Context, alertID, raw string, isPartial bool) (*CredentialOutcome, error) {
	unlock := s.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := models.GetSafetyAlert(s.db, alertID)
	if err != nil {
		return nil, errors.WrapCode(errors.CodeInvalidInput, err, "unknown alert")
	}
	if alert.State != models.StateGracePeriod {
		return nil, errors.WithCodef(errors.CodeInvalidState,
			"credential submission not accepted in state %s", alert.State)
	}

	profile, err := models.GetSafetyProfile(s.db, alert.ProfileID)
	if err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to load profile")
	}

	outcome := &CredentialOutcome{Alert: alert}

	hash, salt := profile.FullCredentialHash, profile.FullCredentialSalt
	if isPartial {
		hash, salt = profile.PartialCredentialHash, profile.PartialCredentialSalt
	}

	if s.verifier.Verify(raw, hash, salt, s.opts.Pepper) {
		if isPartial {
			// 胁迫口令：界面显示已解除，警报转入隐身继续运行
			if err := transitionAlert(alert, models.StateStealth); err != nil {
				return nil, err
			}
			alert.StealthMode = true
			if err := models.SaveSafetyAlert(s.db, alert); err != nil {
				return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist alert")
			}
			s.cancelGraceTimer(alert.ID)
			s.audit(alert.ID, models.AuditStealthActivated, "partial credential verified")
			logger.Warn("stealth mode activated", zap.String("alert_id", alert.ID))
			outcome.Result = OutcomeStealth
			return outcome, nil
		}
		if err := s.resolve(ctx, alert, models.StateFalseAlarm, "user",
			models.AuditFalseAlarmConfirmed, "full credential verified"); err != nil {
			return nil, err
		}
		outcome.Result = OutcomeFalseAlarm
		return outcome, nil
	}

	alert.PasswordAttempts++
	s.audit(alert.ID, models.AuditPasswordFailed,
		fmt.Sprintf("attempt %d of %d", alert.PasswordAttempts, s.opts.MaxCredentialTries))
	if alert.PasswordAttempts >= s.opts.MaxCredentialTries {
		// 错满即视为胁迫迹象，强制 critical 升级
		if err := s.escalate(ctx, alert, models.ReasonMaxPasswordAttempts, true); err != nil {
			return nil, err
		}
		outcome.Result = OutcomeEscalated
	} else {
		if err := models.SaveSafetyAlert(s.db, alert); err != nil {
			return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist alert")
		}
		outcome.Result = OutcomeRejected
		outcome.AttemptsRemaining = s.opts.MaxCredentialTries - alert.PasswordAttempts
	}
	return outcome, nil
}

// ManualResolve 手动解除警报，grace_period 与 stealth 均可解除
func (s *Service) ManualResolve(ctx context.Context, alertID, resolvedBy string) (*models.SafetyAlert, error) {
	unlock := s.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := models.GetSafetyAlert(s.db, alertID)
	if err != nil {
		return nil, errors.WrapCode(errors.CodeInvalidInput, err, "unknown alert")
	}
	if err := s.resolve(ctx, alert, models.StateManuallyResolved, resolvedBy,
		models.AuditManuallyResolved, "resolved by "+resolvedBy); err != nil {
		return nil, err
	}
	return alert, nil
}

// ExpireGracePeriod 宽限期到期处理。警报已离开 grace_period 或
// 截止时间未到时为空操作（定时器触发与用户操作可能竞争）。
func (s *Service) ExpireGracePeriod(ctx context.Context, alertID string) error {
	unlock := s.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := models.GetSafetyAlert(s.db, alertID)
	if err != nil {
		return errors.WrapCode(errors.CodeInvalidInput, err, "unknown alert")
	}
	if alert.State != models.StateGracePeriod {
		return nil
	}
	if alert.GracePeriodEnd != nil && time.Now().Before(*alert.GracePeriodEnd) {
		return nil
	}
	return s.escalate(ctx, alert, models.ReasonGracePeriodExpired, false)
}

// SweepExpiredGracePeriods cron 兜底扫描，进程重启后恢复定时语义
func (s *Service) SweepExpiredGracePeriods(ctx context.Context) {
	alerts, err := models.ListGraceExpiredAlerts(s.db, time.Now())
	if err != nil {
		logger.Error("grace sweep query failed", zap.Error(err))
		return
	}
	for _, alert := range alerts {
		if err := s.ExpireGracePeriod(ctx, alert.ID); err != nil {
			logger.Error("grace sweep escalation failed",
				zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

// ListOpenAlerts 列出档案下的未关闭警报
func (s *Service) ListOpenAlerts(ctx context.Context, profileID string) ([]models.SafetyAlert, error) {
	alerts, err := models.ListOpenAlertsByProfile(s.db, profileID)
	if err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to list alerts")
	}
	return alerts, nil
}

// persistAlert 落库一个 grace_period 初态警报。同一会话最多允许
// 一个未关闭警报，已有时返回 InvalidState。
func (s *Service) persistAlert(tx *gorm.DB, profileID string, sessionID *string, kind models.AlertKind, location models.GeoPoint, severity models.Severity, deviationMeters *float64) (*models.SafetyAlert, error) {
	if sessionID != nil {
		if existing, err := models.GetOpenAlertBySession(tx, *sessionID); err == nil {
			return nil, errors.WithCodef(errors.CodeInvalidState,
				"session %s already has open alert %s", *sessionID, existing.IncidentNumber)
		}
	}

	end := time.Now().Add(s.opts.GracePeriod)
	alert := &models.SafetyAlert{
		SessionID:       sessionID,
		ProfileID:       profileID,
		Kind:            kind,
		Severity:        severity,
		State:           models.StateGracePeriod,
		TriggerLocation: location,
		DeviationMeters: deviationMeters,
		GracePeriodEnd:  &end,
		MaxAttempts:     s.opts.MaxCredentialTries,
	}
	if err := models.CreateSafetyAlert(tx, alert); err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to create alert")
	}

	details := fmt.Sprintf("kind=%s severity=%s", kind, severity)
	if deviationMeters != nil {
		details += fmt.Sprintf(" deviation_m=%.0f", *deviationMeters)
	}
	if err := models.AppendAuditEntry(tx, alert.ID, models.AuditAlertOpened, details); err != nil {
		return nil, errors.WrapCode(errors.CodePersistenceFailure, err, "failed to append audit entry")
	}
	return alert, nil
}

// announceAlert 警报落库后的副作用：指标、宽限期定时器、信号与日志
func (s *Service) announceAlert(alert *models.SafetyAlert) {
	if s.metrics != nil {
		s.metrics.RecordAlertOpened(string(alert.Kind), string(alert.Severity))
	}
	if s.sched != nil {
		alertID := alert.ID
		s.sched.OnceAfterKeyed(s.graceTimerKey(alertID), s.opts.GracePeriod,
			scheduler.FuncJob(func(jobCtx context.Context) {
				if err := s.ExpireGracePeriod(jobCtx, alertID); err != nil {
					logger.Error("grace period expiry failed",
						zap.String("alert_id", alertID), zap.Error(err))
				}
			}))
	}
	util.Sig().Emit(constants.SigAlertOpened, s, alert)
	logger.Warn("safety alert opened",
		zap.String("alert_id", alert.ID),
		zap.String("incident", alert.IncidentNumber),
		zap.String("kind", string(alert.Kind)),
		zap.String("severity", string(alert.Severity)))
}

// resolve 将警报迁入给定终态（false_alarm / manually_resolved）
func (s *Service) resolve(ctx context.Context, alert *models.SafetyAlert, to models.AlertState, resolvedBy, auditAction, auditDetails string) error {
	if err := transitionAlert(alert, to); err != nil {
		return err
	}
	now := time.Now()
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy
	if err := models.SaveSafetyAlert(s.db, alert); err != nil {
		return errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist alert")
	}
	s.cancelGraceTimer(alert.ID)
	s.audit(alert.ID, auditAction, auditDetails)
	if s.metrics != nil {
		s.metrics.RecordAlertResolved(string(to))
	}
	util.Sig().Emit(constants.SigAlertResolved, s, alert)
	logger.Info("safety alert resolved",
		zap.String("alert_id", alert.ID), zap.String("state", string(to)))
	return nil
}

// escalate 升级警报并发起通知级联。forceCritical 仅用于口令错满场景。
// 调用方必须已持有 alert 锁。
func (s *Service) escalate(ctx context.Context, alert *models.SafetyAlert, reason string, forceCritical bool) error {
	if err := transitionAlert(alert, models.StateEscalated); err != nil {
		return err
	}
	if forceCritical {
		alert.Severity = models.SeverityCritical
	}
	alert.EscalationReason = reason
	if err := models.SaveSafetyAlert(s.db, alert); err != nil {
		return errors.WrapCode(errors.CodePersistenceFailure, err, "failed to persist alert")
	}
	s.cancelGraceTimer(alert.ID)
	s.audit(alert.ID, models.AuditEscalated, "reason="+reason)

	if s.metrics != nil {
		s.metrics.RecordAlertEscalated(reason)
	}
	util.Sig().Emit(constants.SigAlertEscalated, s, alert)
	logger.Error("safety alert escalated",
		zap.String("alert_id", alert.ID),
		zap.String("incident", alert.IncidentNumber),
		zap.String("reason", reason),
		zap.String("severity", string(alert.Severity)))

	if s.cascade != nil {
		profile, err := models.GetSafetyProfile(s.db, alert.ProfileID)
		if err != nil {
			logger.Error("failed to load profile for cascade",
				zap.String("alert_id", alert.ID), zap.Error(err))
			return nil
		}
		escalated := *alert
		if s.opts.SyncCascade {
			s.cascade.Run(ctx, s.db, profile, &escalated)
			alert.ContactsNotified = escalated.ContactsNotified
			alert.AuthoritiesNotified = escalated.AuthoritiesNotified
		} else {
			// 异步路径不预置通知标记：级联落库前对外不能声称已通知
			go s.cascade.Run(context.Background(), s.db, profile, &escalated)
		}
	}
	return nil
}

func (s *Service) graceTimerKey(alertID string) string {
	return "grace:" + alertID
}

func (s *Service) cancelGraceTimer(alertID string) {
	if s.sched != nil {
		s.sched.CancelKey(s.graceTimerKey(alertID))
	}
}

func (s *Service) audit(alertID, action, details string) {
	if err := models.AppendAuditEntry(s.db, alertID, action, details); err != nil {
		logger.Error("failed to append audit entry",
			zap.String("alert_id", alertID), zap.String("action", action), zap.Error(err))
	}
}
