package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// 签名时间戳允许的偏差
const signatureClockSkew = 5 * time.Minute

func generateSignature(data, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignVerifyMiddleware 设备请求签名校验。位置上报与告警操作来自
// 不受信网络，要求 X-Signature 覆盖 方法+路径+请求体+时间戳。
// secretKey 为空时禁用校验（开发环境）。
func SignVerifyMiddleware(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secretKey == "" {
			c.Next()
			return
		}

		signature := c.GetHeader("X-Signature")
		if signature == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "signature is missing"})
			return
		}
		timestamp := c.GetHeader("X-Timestamp")
		if timestamp == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "timestamp is missing"})
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp"})
			return
		}
		if d := time.Since(time.Unix(ts, 0)); d > signatureClockSkew || d < -signatureClockSkew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "timestamp out of range"})
			return
		}

		var body string
		if c.Request.Body != nil {
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(strings.NewReader(string(b)))
			body = string(b)
		}

		data := fmt.Sprintf("%s%s%s%s", c.Request.Method, c.Request.URL.Path, body, timestamp)
		expected := generateSignature(data, secretKey)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
