package safety

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/pkg/errors"
	"TrailSafe/pkg/i18n"
	"TrailSafe/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := util.InitDatabase("sqlite", dsn, false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

// fakeVerifier 明文比较，测试中以期望口令充当"哈希"
type fakeVerifier struct{}

func (fakeVerifier) Verify(raw, hash, salt, pepper string) bool {
	return hash != "" && raw == hash
}

type sentRecord struct {
	channel string
	target  string
}

// fakeTransports 记录投递顺序，可按通道注入失败
type fakeTransports struct {
	mu       sync.Mutex
	sent     []sentRecord
	failSMS  bool
	failMail bool
	failPush bool
}

func (f *fakeTransports) record(channel, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentRecord{channel: channel, target: target})
}

func (f *fakeTransports) SendSMS(ctx context.Context, phone, message string) error {
	if f.failSMS {
		return fmt.Errorf("sms gateway unavailable")
	}
	f.record("sms", phone)
	return nil
}

func (f *fakeTransports) SendEmail(ctx context.Context, to, subject, body string) error {
	if f.failMail {
		return fmt.Errorf("smtp unavailable")
	}
	f.record("email", to)
	return nil
}

func (f *fakeTransports) SendPush(ctx context.Context, recipientID, title, body string) error {
	if f.failPush {
		return fmt.Errorf("push unavailable")
	}
	f.record("push", recipientID)
	return nil
}

func (f *fakeTransports) records() []sentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentRecord, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeAuthority struct {
	calls atomic.Int64
}

func (f *fakeAuthority) Notify(ctx context.Context, alert *models.SafetyAlert) error {
	f.calls.Add(1)
	return nil
}

type testEnv struct {
	db         *gorm.DB
	svc        *Service
	transports *fakeTransports
	authority  *fakeAuthority
	profile    *models.SafetyProfile
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	translator, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)

	transports := &fakeTransports{}
	authority := &fakeAuthority{}
	cascade := NewCascade(transports, authority, translator, nil, 0)
	cascade.SetSleepFunc(func(time.Duration) {})

	svc := NewService(db, Options{
		GracePeriod:        2 * time.Minute,
		MaxCredentialTries: 3,
		SyncCascade:        true,
	}, fakeVerifier{}, cascade, nil, nil)

	profile := &models.SafetyProfile{
		UserID:                "traveler-1",
		FullCredentialHash:    "full-secret",
		PartialCredentialHash: "duress-secret",
		VoiceLanguage:         "en",
		Contacts: []models.EmergencyContact{
			{Name: "Second", Phone: "+15550002", Email: "second@example.com", Priority: 2, Active: true},
			{Name: "First", Phone: "+15550001", Email: "first@example.com", Priority: 1, Active: true},
			{Name: "Inactive", Phone: "+15550003", Priority: 0, Active: false},
		},
	}
	require.NoError(t, models.CreateSafetyProfile(db, profile))

	return &testEnv{db: db, svc: svc, transports: transports, authority: authority, profile: profile}
}

func (e *testEnv) startSession(t *testing.T, threshold float64) *models.MonitoringSession {
	t.Helper()
	planned := models.GeoPath{
		{Latitude: 0, Longitude: 0, Timestamp: time.Now()},
		{Latitude: 0, Longitude: 1, Timestamp: time.Now()},
	}
	session, err := e.svc.StartSession(context.Background(), e.profile.ID, planned, threshold, "harbor", nil)
	require.NoError(t, err)
	return session
}

// openAlertViaDeviation 通过 1800m 垂距偏航触发一个警报
func (e *testEnv) openAlertViaDeviation(t *testing.T, session *models.MonitoringSession) *models.SafetyAlert {
	t.Helper()
	report, err := e.svc.ReportPosition(context.Background(), session.ID, models.GeoPoint{
		Latitude: metersToDegrees(1800), Longitude: 0.5, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, report.Alert)
	return report.Alert
}

func auditActions(t *testing.T, db *gorm.DB, alertID string) []string {
	t.Helper()
	entries, err := models.ListAuditEntries(db, alertID)
	require.NoError(t, err)
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("rejects non-positive threshold", func(t *testing.T) {
		_, err := env.svc.StartSession(ctx, env.profile.ID, models.GeoPath{}, 0, "", nil)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})

	t.Run("rejects out-of-range planned point", func(t *testing.T) {
		planned := models.GeoPath{{Latitude: 91, Longitude: 0}}
		_, err := env.svc.StartSession(ctx, env.profile.ID, planned, 500, "", nil)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})

	t.Run("rejects unknown profile", func(t *testing.T) {
		_, err := env.svc.StartSession(ctx, "missing", models.GeoPath{}, 500, "", nil)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})
}

func TestReportPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("appends observation without alert when on route", func(t *testing.T) {
		session := env.startSession(t, 500)
		report, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{Latitude: 0, Longitude: 0.3})
		require.NoError(t, err)
		assert.False(t, report.Evaluation.Deviated)
		assert.Nil(t, report.Alert)

		stored, err := models.GetMonitoringSession(env.db, session.ID)
		require.NoError(t, err)
		assert.Len(t, stored.ObservedPath, 1)
		assert.False(t, stored.DeviationAlreadyFlagged)
	})

	t.Run("watch tier records no alert", func(t *testing.T) {
		session := env.startSession(t, 500)
		report, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{
			Latitude: metersToDegrees(1000), Longitude: 0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, ActionGracePeriod, report.Evaluation.Action)
		assert.Nil(t, report.Alert)
	})

	t.Run("opens medium alert at 1800m deviation", func(t *testing.T) {
		session := env.startSession(t, 500)
		alert := env.openAlertViaDeviation(t, session)

		assert.Equal(t, models.StateGracePeriod, alert.State)
		assert.Equal(t, models.KindRouteDeviation, alert.Kind)
		assert.Equal(t, models.SeverityMedium, alert.Severity)
		assert.NotEmpty(t, alert.IncidentNumber)
		require.NotNil(t, alert.GracePeriodEnd)
		assert.WithinDuration(t, time.Now().Add(2*time.Minute), *alert.GracePeriodEnd, 5*time.Second)
		require.NotNil(t, alert.DeviationMeters)
		assert.InDelta(t, 1800, *alert.DeviationMeters, 20)

		assert.Contains(t, auditActions(t, env.db, alert.ID), models.AuditAlertOpened)
	})

	t.Run("second deviation does not open a second alert", func(t *testing.T) {
		session := env.startSession(t, 500)
		env.openAlertViaDeviation(t, session)

		report, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{
			Latitude: metersToDegrees(2500), Longitude: 0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, ActionTriggerAlert, report.Evaluation.Action)
		assert.Nil(t, report.Alert)

		var count int64
		env.db.Model(&models.SafetyAlert{}).Where("session_id = ?", session.ID).Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("rejects out-of-range position", func(t *testing.T) {
		session := env.startSession(t, 500)
		_, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{Latitude: 0, Longitude: 181})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})

	t.Run("rejects reports on stopped session", func(t *testing.T) {
		session := env.startSession(t, 500)
		require.NoError(t, env.svc.StopSession(ctx, session.ID))
		_, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{Latitude: 0, Longitude: 0.5})
		assert.True(t, errors.IsCode(err, errors.CodeSessionClosed))
	})
}

func TestSubmitCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("full credential confirms false alarm", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		outcome, err := env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFalseAlarm, outcome.Result)
		assert.Equal(t, models.StateFalseAlarm, outcome.Alert.State)
		assert.Equal(t, "user", outcome.Alert.ResolvedBy)
		assert.NotNil(t, outcome.Alert.ResolvedAt)
		assert.Empty(t, env.transports.records(), "no cascade on false alarm")
		assert.Contains(t, auditActions(t, env.db, alert.ID), models.AuditFalseAlarmConfirmed)
	})

	t.Run("partial credential activates stealth", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		outcome, err := env.svc.SubmitCredential(ctx, alert.ID, "duress-secret", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeStealth, outcome.Result)
		assert.Equal(t, models.StateStealth, outcome.Alert.State)
		assert.True(t, outcome.Alert.StealthMode)
		assert.False(t, outcome.Alert.State.Terminal())
		assert.Contains(t, auditActions(t, env.db, alert.ID), models.AuditStealthActivated)
	})

	t.Run("credential of the other kind counts as a failed attempt", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		// 完整口令通道里提交暗示口令：既不解除也不进隐身
		outcome, err := env.svc.SubmitCredential(ctx, alert.ID, "duress-secret", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, outcome.Result)
		assert.Equal(t, models.StateGracePeriod, outcome.Alert.State)
		assert.False(t, outcome.Alert.StealthMode)

		outcome, err = env.svc.SubmitCredential(ctx, alert.ID, "full-secret", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, outcome.Result)
		assert.Equal(t, 1, outcome.AttemptsRemaining)
		assert.Contains(t, auditActions(t, env.db, alert.ID), models.AuditPasswordFailed)
	})

	t.Run("wrong attempts below max are rejected with remaining count", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		outcome, err := env.svc.SubmitCredential(ctx, alert.ID, "nope", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, outcome.Result)
		assert.Equal(t, 2, outcome.AttemptsRemaining)
		assert.Equal(t, models.StateGracePeriod, outcome.Alert.State)

		// 错一次后正确口令仍可解除
		outcome, err = env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFalseAlarm, outcome.Result)
	})

	t.Run("three wrong attempts force critical escalation", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		var outcome *CredentialOutcome
		var err error
		for i := 0; i < 3; i++ {
			outcome, err = env.svc.SubmitCredential(ctx, alert.ID, "nope", false)
			require.NoError(t, err)
		}
		assert.Equal(t, OutcomeEscalated, outcome.Result)
		assert.Equal(t, models.StateEscalated, outcome.Alert.State)
		assert.Equal(t, models.SeverityCritical, outcome.Alert.Severity)
		assert.Equal(t, models.ReasonMaxPasswordAttempts, outcome.Alert.EscalationReason)
		assert.True(t, outcome.Alert.ContactsNotified)
		assert.True(t, outcome.Alert.AuthoritiesNotified)
		assert.EqualValues(t, 1, env.authority.calls.Load(), "cascade runs exactly once")

		actions := auditActions(t, env.db, alert.ID)
		assert.Contains(t, actions, models.AuditEscalated)
		assert.Contains(t, actions, models.AuditContactsNotified)
	})

	t.Run("rejected outside grace period", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))
		_, err := env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		require.NoError(t, err)

		_, err = env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	})
}

func TestExpireGracePeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("past deadline escalates", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		past := time.Now().Add(-time.Second)
		alert.GracePeriodEnd = &past
		require.NoError(t, models.SaveSafetyAlert(env.db, alert))

		require.NoError(t, env.svc.ExpireGracePeriod(ctx, alert.ID))

		stored, err := models.GetSafetyAlert(env.db, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateEscalated, stored.State)
		assert.Equal(t, models.ReasonGracePeriodExpired, stored.EscalationReason)
		assert.Equal(t, models.SeverityMedium, stored.Severity, "expiry keeps original severity")
		assert.True(t, stored.ContactsNotified)
	})

	t.Run("future deadline is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		require.NoError(t, env.svc.ExpireGracePeriod(ctx, alert.ID))
		stored, err := models.GetSafetyAlert(env.db, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateGracePeriod, stored.State)
	})

	t.Run("already resolved alert is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))
		_, err := env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		require.NoError(t, err)

		past := time.Now().Add(-time.Second)
		env.db.Model(&models.SafetyAlert{}).Where("id = ?", alert.ID).Update("grace_period_end", past)

		require.NoError(t, env.svc.ExpireGracePeriod(ctx, alert.ID))
		stored, err := models.GetSafetyAlert(env.db, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateFalseAlarm, stored.State)
		assert.Empty(t, env.transports.records())
	})
}

func TestSweepExpiredGracePeriods(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fresh := env.openAlertViaDeviation(t, env.startSession(t, 500))
	expired := env.openAlertViaDeviation(t, env.startSession(t, 500))
	past := time.Now().Add(-time.Minute)
	expired.GracePeriodEnd = &past
	require.NoError(t, models.SaveSafetyAlert(env.db, expired))

	env.svc.SweepExpiredGracePeriods(ctx)

	stored, err := models.GetSafetyAlert(env.db, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEscalated, stored.State)

	stored, err = models.GetSafetyAlert(env.db, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateGracePeriod, stored.State)
}

func TestManualResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("from grace period", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))

		resolved, err := env.svc.ManualResolve(ctx, alert.ID, "operator")
		require.NoError(t, err)
		assert.Equal(t, models.StateManuallyResolved, resolved.State)
		assert.Equal(t, "operator", resolved.ResolvedBy)
		assert.Contains(t, auditActions(t, env.db, alert.ID), models.AuditManuallyResolved)
	})

	t.Run("from stealth", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))
		_, err := env.svc.SubmitCredential(ctx, alert.ID, "duress-secret", true)
		require.NoError(t, err)

		resolved, err := env.svc.ManualResolve(ctx, alert.ID, "operator")
		require.NoError(t, err)
		assert.Equal(t, models.StateManuallyResolved, resolved.State)
	})

	t.Run("escalated alert cannot be resolved", func(t *testing.T) {
		env := newTestEnv(t)
		alert := env.openAlertViaDeviation(t, env.startSession(t, 500))
		for i := 0; i < 3; i++ {
			_, err := env.svc.SubmitCredential(ctx, alert.ID, "nope", false)
			require.NoError(t, err)
		}
		_, err := env.svc.ManualResolve(ctx, alert.ID, "operator")
		assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	})
}

func TestTriggerManualAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("manual trigger opens high severity grace period", func(t *testing.T) {
		env := newTestEnv(t)
		alert, err := env.svc.TriggerManualAlert(ctx, env.profile.ID, nil, models.KindManualTrigger,
			models.GeoPoint{Latitude: 40.0, Longitude: -73.9})
		require.NoError(t, err)
		assert.Equal(t, models.StateGracePeriod, alert.State)
		assert.Equal(t, models.SeverityHigh, alert.Severity)
		assert.Empty(t, env.transports.records())
	})

	t.Run("panic escalates immediately as critical", func(t *testing.T) {
		env := newTestEnv(t)
		alert, err := env.svc.TriggerManualAlert(ctx, env.profile.ID, nil, models.KindPanic,
			models.GeoPoint{Latitude: 40.0, Longitude: -73.9})
		require.NoError(t, err)
		assert.Equal(t, models.StateEscalated, alert.State)
		assert.Equal(t, models.SeverityCritical, alert.Severity)
		assert.NotEmpty(t, env.transports.records())
	})
}

func TestOneOpenAlertPerSession(t *testing.T) {
	ctx := context.Background()

	t.Run("manual alert rejected while session alert open", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.startSession(t, 500)
		env.openAlertViaDeviation(t, session)

		_, err := env.svc.TriggerManualAlert(ctx, env.profile.ID, &session.ID, models.KindManualTrigger,
			models.GeoPoint{Latitude: 0, Longitude: 0.5})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidState))

		var count int64
		env.db.Model(&models.SafetyAlert{}).Where("session_id = ?", session.ID).Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("deviation does not stack on an open manual alert", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.startSession(t, 500)
		_, err := env.svc.TriggerManualAlert(ctx, env.profile.ID, &session.ID, models.KindManualTrigger,
			models.GeoPoint{Latitude: 0, Longitude: 0.5})
		require.NoError(t, err)

		report, err := env.svc.ReportPosition(ctx, session.ID, models.GeoPoint{
			Latitude: metersToDegrees(1800), Longitude: 0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, ActionTriggerAlert, report.Evaluation.Action)
		assert.Nil(t, report.Alert)

		var count int64
		env.db.Model(&models.SafetyAlert{}).Where("session_id = ?", session.ID).Count(&count)
		assert.EqualValues(t, 1, count)

		stored, err := models.GetMonitoringSession(env.db, session.ID)
		require.NoError(t, err)
		assert.False(t, stored.DeviationAlreadyFlagged, "flag stays clear for a deviation after the alert closes")
		assert.Len(t, stored.ObservedPath, 1, "observation still recorded")
	})

	t.Run("resolved session alert allows a new one", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.startSession(t, 500)
		alert := env.openAlertViaDeviation(t, session)
		_, err := env.svc.SubmitCredential(ctx, alert.ID, "full-secret", false)
		require.NoError(t, err)

		again, err := env.svc.TriggerManualAlert(ctx, env.profile.ID, &session.ID, models.KindManualTrigger,
			models.GeoPoint{Latitude: 0, Longitude: 0.5})
		require.NoError(t, err)
		assert.Equal(t, models.StateGracePeriod, again.State)
	})
}

func TestAsyncCascadeFlagsFollowCompletion(t *testing.T) {
	db := newTestDB(t)
	translator, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)

	transports := &fakeTransports{}
	authority := &fakeAuthority{}
	cascade := NewCascade(transports, authority, translator, nil, 0)
	cascade.SetSleepFunc(func(time.Duration) {})

	svc := NewService(db, Options{
		GracePeriod:        2 * time.Minute,
		MaxCredentialTries: 3,
	}, fakeVerifier{}, cascade, nil, nil)

	profile := &models.SafetyProfile{
		UserID:             "traveler-1",
		FullCredentialHash: "full-secret",
		Contacts: []models.EmergencyContact{
			{Name: "First", Phone: "+15550001", Priority: 1, Active: true},
		},
	}
	require.NoError(t, models.CreateSafetyProfile(db, profile))

	alert, err := svc.TriggerManualAlert(context.Background(), profile.ID, nil, models.KindPanic,
		models.GeoPoint{Latitude: 40.0, Longitude: -73.9})
	require.NoError(t, err)

	// 级联在后台跑，返回的警报不得预先声称已通知
	assert.False(t, alert.ContactsNotified)
	assert.False(t, alert.AuthoritiesNotified)

	require.Eventually(t, func() bool {
		stored, err := models.GetSafetyAlert(db, alert.ID)
		return err == nil && stored.ContactsNotified && stored.AuthoritiesNotified
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListOpenAlerts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	open := env.openAlertViaDeviation(t, env.startSession(t, 500))
	closed := env.openAlertViaDeviation(t, env.startSession(t, 500))
	_, err := env.svc.SubmitCredential(ctx, closed.ID, "full-secret", false)
	require.NoError(t, err)

	alerts, err := env.svc.ListOpenAlerts(ctx, env.profile.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, open.ID, alerts[0].ID)
}
