package handlers

import (
	"net/http"

	"TrailSafe/pkg/middleware"
	"TrailSafe/pkg/response"

	"github.com/gin-gonic/gin"
)

// handleUpdateRateLimiterConfig 动态更新限流配置
func (h *Handlers) handleUpdateRateLimiterConfig(c *gin.Context) {
	if h.limiter == nil {
		response.FailWithStatus(c, http.StatusServiceUnavailable, "rate limiter not enabled", nil)
		return
	}
	var cfg middleware.RateLimiterConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.FailWithStatus(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	h.limiter.UpdateConfig(cfg)
	response.Success(c, "rate limiter config updated", nil)
}

// handleHealthCheck 健康检查
func (h *Handlers) handleHealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
