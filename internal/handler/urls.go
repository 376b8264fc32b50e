package handlers

import (
	"time"

	"TrailSafe/internal/safety"
	"TrailSafe/pkg/cache"
	"TrailSafe/pkg/config"
	"TrailSafe/pkg/metrics"
	"TrailSafe/pkg/middleware"
	"TrailSafe/pkg/sse"
	"TrailSafe/pkg/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handlers struct {
	db        *gorm.DB
	svc       *safety.Service
	hub       *sse.Hub
	media     storage.MediaStore
	limiter   *middleware.RateLimiter
	cache     cache.Cache
	metrics   *metrics.Metrics
	accessLog *middleware.AccessLogger
}

func NewHandlers(db *gorm.DB, svc *safety.Service, hub *sse.Hub, media storage.MediaStore, limiter *middleware.RateLimiter, c cache.Cache, m *metrics.Metrics, accessLog *middleware.AccessLogger) *Handlers {
	return &Handlers{
		db:        db,
		svc:       svc,
		hub:       hub,
		media:     media,
		limiter:   limiter,
		cache:     c,
		metrics:   m,
		accessLog: accessLog,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/health", h.handleHealthCheck)
	engine.GET("/metrics", metrics.Handler())

	r := engine.Group(config.GlobalConfig.APIPrefix)
	r.Use(middleware.InjectDB(h.db))
	r.Use(middleware.LanguageMiddleware(config.GlobalConfig.DefaultLanguage))
	if h.limiter != nil {
		r.Use(h.limiter.Middleware())
	}
	if h.accessLog != nil {
		r.Use(h.accessLog.Middleware())
	}

	h.registerProfileRoutes(r)
	h.registerSessionRoutes(r)
	h.registerAlertRoutes(r)
	h.registerAdminRoutes(r)
}

func (h *Handlers) registerProfileRoutes(r *gin.RouterGroup) {
	profiles := r.Group("/profiles")
	{
		profiles.POST("", h.handleCreateProfile)
		profiles.GET("/:id", h.handleGetProfile)
		profiles.DELETE("/:id", h.handleDeleteProfile)
		profiles.POST("/:id/contacts", h.handleAddContact)
		profiles.GET("/:id/alerts", h.handleListOpenAlerts)
		profiles.GET("/:id/feed", h.handleAlertFeed)
	}
}

func (h *Handlers) registerSessionRoutes(r *gin.RouterGroup) {
	sign := middleware.SignVerifyMiddleware(config.GlobalConfig.DeviceSecret)
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.handleStartSession)
		sessions.GET("/:id", h.handleGetSession)
		sessions.POST("/:id/positions", sign, h.handleReportPosition)
		sessions.POST("/:id/stop", sign, h.handleStopSession)
		sessions.GET("/:id/stream", h.handlePositionStream)
	}
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	sign := middleware.SignVerifyMiddleware(config.GlobalConfig.DeviceSecret)
	manual := []gin.HandlerFunc{sign}
	if h.cache != nil {
		manual = append(manual, middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
			Store: h.cache,
			TTL:   5 * time.Minute,
		}))
	}
	manual = append(manual, h.handleTriggerManualAlert)
	alerts := r.Group("/alerts")
	{
		alerts.POST("/manual", manual...)
		alerts.GET("/:id", h.handleGetAlert)
		alerts.POST("/:id/credential", sign, h.handleSubmitCredential)
		alerts.POST("/:id/resolve", h.handleManualResolve)
		alerts.GET("/:id/audit", h.handleListAudit)
		alerts.POST("/:id/media", h.handleAttachMedia)
		alerts.GET("/:id/media", h.handleListMedia)
	}
}

func (h *Handlers) registerAdminRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		admin.PUT("/rate-limit", h.handleUpdateRateLimiterConfig)
	}
}
