package handlers

import (
	"net/http"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/pkg/response"

	"github.com/gin-gonic/gin"
)

type startSessionRequest struct {
	ProfileID                string            `json:"profileId" binding:"required"`
	PlannedPath              []models.GeoPoint `json:"plannedPath" binding:"required"`
	DeviationThresholdMeters float64           `json:"deviationThresholdMeters" binding:"required"`
	Destination              string            `json:"destination"`
	EstimatedArrival         *time.Time        `json:"estimatedArrival"`
}

func (h *Handlers) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := h.svc.StartSession(c.Request.Context(), req.ProfileID, req.PlannedPath,
		req.DeviationThresholdMeters, req.Destination, req.EstimatedArrival)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "session started", gin.H{"session": session})
}

func (h *Handlers) handleGetSession(c *gin.Context) {
	session, err := models.GetMonitoringSession(h.db, c.Param("id"))
	if err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "session not found", nil)
		return
	}
	response.Success(c, "success", gin.H{"session": session})
}

func (h *Handlers) handleReportPosition(c *gin.Context) {
	var point models.GeoPoint
	if err := c.ShouldBindJSON(&point); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.svc.ReportPosition(c.Request.Context(), c.Param("id"), point)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "position recorded", gin.H{"report": report})
}

func (h *Handlers) handleStopSession(c *gin.Context) {
	if err := h.svc.StopSession(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "session stopped", nil)
}
