package middleware

import (
	"net"
	"time"

	constants "TrailSafe/pkg/constant"
	"TrailSafe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccessLog 访问流水。事后排查警报时间线时，需要知道每次
// 位置上报/口令提交来自什么设备、什么网络位置。
type AccessLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProfileID string    `gorm:"size:36;index" json:"profileId"`
	Method    string    `gorm:"size:8" json:"method"`
	Path      string    `gorm:"size:255" json:"path"`
	Status    int       `json:"status"`
	LatencyMs int64     `json:"latencyMs"`
	IPAddress string    `gorm:"size:64" json:"ipAddress"`
	Device    string    `gorm:"size:64" json:"device"`
	Browser   string    `gorm:"size:64" json:"browser"`
	OS        string    `gorm:"size:64" json:"os"`
	Location  string    `gorm:"size:128" json:"location"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// AccessLogger 访问日志中间件。GeoIP 库可选，打不开时只记 IP。
type AccessLogger struct {
	geoip *geoip2.Reader
}

// NewAccessLogger 创建访问日志中间件，geoipPath 为空则跳过地理定位
func NewAccessLogger(geoipPath string) *AccessLogger {
	a := &AccessLogger{}
	if geoipPath != "" {
		reader, err := geoip2.Open(geoipPath)
		if err != nil {
			logger.Warn("geoip database unavailable", zap.String("path", geoipPath), zap.Error(err))
		} else {
			a.geoip = reader
		}
	}
	return a
}

func (a *AccessLogger) Close() {
	if a.geoip != nil {
		_ = a.geoip.Close()
	}
}

// Middleware 记录访问流水；写库失败只打日志，绝不阻断请求
func (a *AccessLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		v, exists := c.Get(constants.DbField)
		if !exists {
			return
		}
		db, ok := v.(*gorm.DB)
		if !ok {
			return
		}

		ua := user_agent.New(c.GetHeader("User-Agent"))
		browser, version := ua.Browser()
		ip := c.ClientIP()

		entry := AccessLog{
			ProfileID: c.GetString(constants.ProfileField),
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Status:    c.Writer.Status(),
			LatencyMs: time.Since(start).Milliseconds(),
			IPAddress: ip,
			Device:    ua.Platform(),
			Browser:   browser + " " + version,
			OS:        ua.OS(),
			Location:  a.locate(ip),
		}
		if err := db.Create(&entry).Error; err != nil {
			logger.Warn("failed to record access log", zap.Error(err))
		}
	}
}

func (a *AccessLogger) locate(ip string) string {
	if a.geoip == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := a.geoip.City(parsed)
	if err != nil {
		return ""
	}
	return record.City.Names["en"]
}
