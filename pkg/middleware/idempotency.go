package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"TrailSafe/pkg/cache"

	"github.com/gin-gonic/gin"
)

// IdempotencyConfig 幂等窗口配置。惊慌触发、口令提交这类端点
// 在弱网下会被客户端重试，重复请求在窗口内直接拒绝。
type IdempotencyConfig struct {
	HeaderName string        // 幂等键请求头，默认 Idempotency-Key
	TTL        time.Duration // 重复请求拒绝窗口
	Store      cache.Cache   // 键存储，进程内或 Redis
}

// IdempotencyMiddleware 幂等中间件。无显式幂等键时回落到请求体哈希。
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(strings.NewReader(string(b)))
			h := sha256.Sum256(append([]byte(c.Request.URL.Path), b...))
			key = hex.EncodeToString(h[:])
		}
		key = "idem:" + key

		ctx := c.Request.Context()
		if cfg.Store.Exists(ctx, key) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		_ = cfg.Store.Set(ctx, key, true, cfg.TTL)
		c.Next()
	}
}
