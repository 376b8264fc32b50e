package handlers

import (
	"net/http"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/internal/safety"
	"TrailSafe/pkg/response"
	"TrailSafe/pkg/util"

	"github.com/gin-gonic/gin"
)

type manualAlertRequest struct {
	ProfileID string          `json:"profileId" binding:"required"`
	SessionID *string         `json:"sessionId"`
	Kind      string          `json:"kind"`
	Location  models.GeoPoint `json:"location" binding:"required"`
}

func (h *Handlers) handleTriggerManualAlert(c *gin.Context) {
	var req manualAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := models.AlertKind(req.Kind)
	switch kind {
	case models.KindManualTrigger, models.KindPanic, models.KindTamperDetection:
	case "":
		kind = models.KindManualTrigger
	default:
		response.FailWithStatus(c, http.StatusBadRequest, "unsupported alert kind", nil)
		return
	}
	alert, err := h.svc.TriggerManualAlert(c.Request.Context(), req.ProfileID, req.SessionID, kind, req.Location)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert opened", gin.H{"alert": alert})
}

func (h *Handlers) handleGetAlert(c *gin.Context) {
	alert, err := models.GetSafetyAlert(h.db, c.Param("id"))
	if err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "alert not found", nil)
		return
	}
	response.Success(c, "success", gin.H{"alert": alert})
}

type credentialRequest struct {
	Credential string `json:"credential" binding:"required"`
	IsPartial  bool   `json:"isPartial"`
}

func (h *Handlers) handleSubmitCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome, err := h.svc.SubmitCredential(c.Request.Context(), c.Param("id"), req.Credential, req.IsPartial)
	if err != nil {
		response.Error(c, err)
		return
	}
	// 隐身模式下界面必须表现为"警报已解除"
	if outcome.Result == safety.OutcomeStealth {
		response.Success(c, "alert resolved", gin.H{"result": safety.OutcomeFalseAlarm})
		return
	}
	response.Success(c, "credential processed", gin.H{
		"result":            outcome.Result,
		"attemptsRemaining": outcome.AttemptsRemaining,
	})
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
}

func (h *Handlers) handleManualResolve(c *gin.Context) {
	var req resolveRequest
	_ = c.ShouldBindJSON(&req)
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}
	alert, err := h.svc.ManualResolve(c.Request.Context(), c.Param("id"), req.ResolvedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "alert resolved", gin.H{"alert": alert})
}

func (h *Handlers) handleListOpenAlerts(c *gin.Context) {
	alerts, err := h.svc.ListOpenAlerts(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "success", gin.H{"alerts": alerts})
}

func (h *Handlers) handleListAudit(c *gin.Context) {
	alertID := c.Param("id")
	if _, err := models.GetSafetyAlert(h.db, alertID); err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "alert not found", nil)
		return
	}
	entries, err := models.ListAuditEntries(h.db, alertID)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to list audit trail", nil)
		return
	}
	response.Success(c, "success", gin.H{"entries": entries})
}

func (h *Handlers) handleAttachMedia(c *gin.Context) {
	if h.media == nil {
		response.FailWithStatus(c, http.StatusServiceUnavailable, "media storage not configured", nil)
		return
	}
	alert, err := models.GetSafetyAlert(h.db, c.Param("id"))
	if err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "alert not found", nil)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.FailWithStatus(c, http.StatusBadRequest, "missing file", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key, err := h.media.Save(c.Request.Context(), alert.IncidentNumber, header.Filename, contentType, file, header.Size)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to store media", nil)
		return
	}

	attachment := &models.MediaAttachment{
		AlertID:     alert.ID,
		ObjectKey:   key,
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
	}
	if err := models.CreateMediaAttachment(h.db, attachment); err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to record media", nil)
		return
	}
	_ = models.AppendAuditEntry(h.db, alert.ID, models.AuditMediaAttached, "key="+key)
	response.Success(c, "media attached", gin.H{"attachment": attachment})
}

func (h *Handlers) handleListMedia(c *gin.Context) {
	alertID := c.Param("id")
	items, err := models.ListMediaAttachments(h.db, alertID)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to list media", nil)
		return
	}
	type mediaView struct {
		models.MediaAttachment
		URL string `json:"url,omitempty"`
	}
	views := make([]mediaView, 0, len(items))
	for _, item := range items {
		v := mediaView{MediaAttachment: item}
		if h.media != nil {
			if u, err := h.media.PresignedURL(c.Request.Context(), item.ObjectKey, 15*time.Minute); err == nil {
				v.URL = u
			}
		}
		views = append(views, v)
	}
	response.Success(c, "success", gin.H{"media": views})
}

func (h *Handlers) handleAlertFeed(c *gin.Context) {
	profileID := c.Param("id")
	if _, err := models.GetSafetyProfile(h.db, profileID); err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "profile not found", nil)
		return
	}
	h.hub.Serve(c, util.NewID(), profileID)
}
