package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/internal/safety"
	"TrailSafe/pkg/config"
	"TrailSafe/pkg/i18n"
	"TrailSafe/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransports struct{}

func (nopTransports) SendSMS(ctx context.Context, phone, message string) error      { return nil }
func (nopTransports) SendEmail(ctx context.Context, to, subject, body string) error { return nil }
func (nopTransports) SendPush(ctx context.Context, id, title, body string) error    { return nil }

type nopAuthority struct{}

func (nopAuthority) Notify(ctx context.Context, alert *models.SafetyAlert) error { return nil }

var handlerDBSeq atomic.Int64

func newTestRouter(t *testing.T) (*gin.Engine, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, config.Load())

	dsn := fmt.Sprintf("file:handlers%d?mode=memory&cache=shared", handlerDBSeq.Add(1))
	db, err := util.InitDatabase("sqlite", dsn, false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	translator, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)
	cascade := safety.NewCascade(nopTransports{}, nopAuthority{}, translator, nil, 0)
	cascade.SetSleepFunc(func(time.Duration) {})

	svc := safety.NewService(db, safety.Options{
		GracePeriod:        2 * time.Minute,
		MaxCredentialTries: 3,
		SyncCascade:        true,
	}, safety.BcryptVerifier{}, cascade, nil, nil)

	h := NewHandlers(db, svc, nil, nil, nil, nil, nil, nil)
	engine := gin.New()

	r := engine.Group(config.GlobalConfig.APIPrefix)
	h.registerProfileRoutes(r)
	h.registerSessionRoutes(r)
	h.registerAlertRoutes(r)
	return engine, h
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp.Data
}

func createProfile(t *testing.T, engine *gin.Engine) string {
	t.Helper()
	w, data := doJSON(t, engine, http.MethodPost, "/api/v1/profiles", gin.H{
		"userId":            "traveler-1",
		"fullCredential":    "open-sesame",
		"partialCredential": "help-me",
		"contacts": []gin.H{
			{"name": "Ana", "phone": "+15550001", "email": "ana@example.com", "priority": 1},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var profile models.SafetyProfile
	require.NoError(t, json.Unmarshal(data["profile"], &profile))
	return profile.ID
}

func startSession(t *testing.T, engine *gin.Engine, profileID string) string {
	t.Helper()
	w, data := doJSON(t, engine, http.MethodPost, "/api/v1/sessions", gin.H{
		"profileId": profileID,
		"plannedPath": []gin.H{
			{"latitude": 0, "longitude": 0, "timestamp": time.Now()},
			{"latitude": 0, "longitude": 1, "timestamp": time.Now()},
		},
		"deviationThresholdMeters": 500,
		"destination":              "harbor",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session models.MonitoringSession
	require.NoError(t, json.Unmarshal(data["session"], &session))
	return session.ID
}

func openAlert(t *testing.T, engine *gin.Engine, sessionID string) models.SafetyAlert {
	t.Helper()
	w, data := doJSON(t, engine, http.MethodPost, "/api/v1/sessions/"+sessionID+"/positions", gin.H{
		"latitude": 1800 / 111194.9, "longitude": 0.5, "timestamp": time.Now(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report safety.PositionReport
	require.NoError(t, json.Unmarshal(data["report"], &report))
	require.NotNil(t, report.Alert)
	return *report.Alert
}

func TestProfileLifecycle(t *testing.T) {
	engine, h := newTestRouter(t)
	profileID := createProfile(t, engine)

	t.Run("rejects identical credentials", func(t *testing.T) {
		w, _ := doJSON(t, engine, http.MethodPost, "/api/v1/profiles", gin.H{
			"userId":            "traveler-2",
			"fullCredential":    "same",
			"partialCredential": "same",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("credentials never leave the server", func(t *testing.T) {
		w, _ := doJSON(t, engine, http.MethodGet, "/api/v1/profiles/"+profileID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "open-sesame")
		assert.NotContains(t, w.Body.String(), "CredentialHash")
	})

	t.Run("stored hashes verify", func(t *testing.T) {
		profile, err := models.GetSafetyProfile(h.db, profileID)
		require.NoError(t, err)
		v := safety.BcryptVerifier{}
		assert.True(t, v.Verify("open-sesame", profile.FullCredentialHash, profile.FullCredentialSalt, ""))
		assert.False(t, v.Verify("wrong", profile.FullCredentialHash, profile.FullCredentialSalt, ""))
	})
}

func TestSessionAndAlertFlow(t *testing.T) {
	engine, _ := newTestRouter(t)
	profileID := createProfile(t, engine)
	sessionID := startSession(t, engine, profileID)
	alert := openAlert(t, engine, sessionID)

	t.Run("open alerts listed for profile", func(t *testing.T) {
		w, data := doJSON(t, engine, http.MethodGet, "/api/v1/profiles/"+profileID+"/alerts", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var alerts []models.SafetyAlert
		require.NoError(t, json.Unmarshal(data["alerts"], &alerts))
		require.Len(t, alerts, 1)
		assert.Equal(t, alert.ID, alerts[0].ID)
	})

	t.Run("full credential resolves as false alarm", func(t *testing.T) {
		w, data := doJSON(t, engine, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/credential",
			gin.H{"credential": "open-sesame"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `"false_alarm"`, string(data["result"]))
	})

	t.Run("audit trail is readable", func(t *testing.T) {
		w, data := doJSON(t, engine, http.MethodGet, "/api/v1/alerts/"+alert.ID+"/audit", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var entries []models.AuditEntry
		require.NoError(t, json.Unmarshal(data["entries"], &entries))
		actions := make([]string, len(entries))
		for i, e := range entries {
			actions[i] = e.Action
		}
		assert.Contains(t, actions, models.AuditAlertOpened)
		assert.Contains(t, actions, models.AuditFalseAlarmConfirmed)
	})

	t.Run("resolved alert rejects further credentials", func(t *testing.T) {
		w, _ := doJSON(t, engine, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/credential",
			gin.H{"credential": "open-sesame"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestStealthResponseMasquerades(t *testing.T) {
	engine, h := newTestRouter(t)
	profileID := createProfile(t, engine)
	sessionID := startSession(t, engine, profileID)
	alert := openAlert(t, engine, sessionID)

	w, data := doJSON(t, engine, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/credential",
		gin.H{"credential": "help-me", "isPartial": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 响应对外伪装成解除成功
	assert.JSONEq(t, `"false_alarm"`, string(data["result"]))
	assert.NotContains(t, w.Body.String(), "stealth")

	stored, err := models.GetSafetyAlert(h.db, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateStealth, stored.State)
	assert.True(t, stored.StealthMode)
}

func TestManualPanicEscalatesImmediately(t *testing.T) {
	engine, _ := newTestRouter(t)
	profileID := createProfile(t, engine)

	w, data := doJSON(t, engine, http.MethodPost, "/api/v1/alerts/manual", gin.H{
		"profileId": profileID,
		"kind":      "panic",
		"location":  gin.H{"latitude": 40.0, "longitude": -73.9},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var alert models.SafetyAlert
	require.NoError(t, json.Unmarshal(data["alert"], &alert))
	assert.Equal(t, models.StateEscalated, alert.State)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
}
