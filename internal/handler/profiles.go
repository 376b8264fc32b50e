package handlers

import (
	"net/http"

	"TrailSafe/internal/models"
	"TrailSafe/internal/safety"
	"TrailSafe/pkg/config"
	"TrailSafe/pkg/response"

	"github.com/gin-gonic/gin"
)

type contactRequest struct {
	Name         string `json:"name" binding:"required"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Relationship string `json:"relationship"`
	Priority     int    `json:"priority"`
	Active       *bool  `json:"active"`
}

type createProfileRequest struct {
	UserID            string           `json:"userId" binding:"required"`
	FullCredential    string           `json:"fullCredential" binding:"required"`
	PartialCredential string           `json:"partialCredential" binding:"required"`
	VoiceLanguage     string           `json:"voiceLanguage"`
	BackgroundAllowed bool             `json:"backgroundAllowed"`
	Contacts          []contactRequest `json:"contacts"`
}

func (h *Handlers) handleCreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// 完整口令与暗示口令相同会让胁迫场景无法区分
	if req.FullCredential == req.PartialCredential {
		response.FailWithStatus(c, http.StatusBadRequest, "full and partial credentials must differ", nil)
		return
	}

	pepper := config.GlobalConfig.CredentialPepper
	fullSalt, partialSalt := models.NewSalt(), models.NewSalt()
	fullHash, err := safety.HashCredential(req.FullCredential, fullSalt, pepper)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to hash credential", nil)
		return
	}
	partialHash, err := safety.HashCredential(req.PartialCredential, partialSalt, pepper)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to hash credential", nil)
		return
	}

	profile := &models.SafetyProfile{
		UserID:                req.UserID,
		FullCredentialHash:    fullHash,
		FullCredentialSalt:    fullSalt,
		PartialCredentialHash: partialHash,
		PartialCredentialSalt: partialSalt,
		Enabled:               true,
		VoiceLanguage:         req.VoiceLanguage,
		BackgroundAllowed:     req.BackgroundAllowed,
	}
	if profile.VoiceLanguage == "" {
		profile.VoiceLanguage = config.GlobalConfig.DefaultLanguage
	}
	for _, cr := range req.Contacts {
		profile.Contacts = append(profile.Contacts, contactFromRequest(cr))
	}

	if err := models.CreateSafetyProfile(h.db, profile); err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to create profile", nil)
		return
	}
	response.Success(c, "profile created", gin.H{"profile": profile})
}

func (h *Handlers) handleGetProfile(c *gin.Context) {
	profile, err := models.GetSafetyProfile(h.db, c.Param("id"))
	if err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "profile not found", nil)
		return
	}
	response.Success(c, "success", gin.H{"profile": profile})
}

func (h *Handlers) handleDeleteProfile(c *gin.Context) {
	if err := models.DeleteSafetyProfile(h.db, c.Param("id")); err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to delete profile", nil)
		return
	}
	response.Success(c, "profile deleted", nil)
}

func (h *Handlers) handleAddContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profileID := c.Param("id")
	if _, err := models.GetSafetyProfile(h.db, profileID); err != nil {
		response.FailWithStatus(c, http.StatusNotFound, "profile not found", nil)
		return
	}
	contact := contactFromRequest(req)
	contact.ProfileID = profileID
	if err := models.AddEmergencyContact(h.db, &contact); err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "failed to add contact", nil)
		return
	}
	response.Success(c, "contact added", gin.H{"contact": contact})
}

func contactFromRequest(req contactRequest) models.EmergencyContact {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return models.EmergencyContact{
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		Relationship: req.Relationship,
		Priority:     req.Priority,
		Active:       active,
	}
}
