package response

import (
	"net/http"

	"TrailSafe/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: message, Data: data})
}

// Fail 失败响应（业务错误，HTTP 200）
func Fail(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: 1, Message: message, Data: data})
}

// FailWithStatus 失败响应（带 HTTP 状态码）
func FailWithStatus(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Code: 1, Message: message, Data: data})
}

// Error 按错误码映射 HTTP 状态返回
func Error(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeSessionClosed, errors.CodeInvalidState:
		status = http.StatusConflict
	case errors.CodeVerificationFailure:
		status = http.StatusUnauthorized
	case errors.CodeNotificationChannelFailure:
		status = http.StatusBadGateway
	}
	c.JSON(status, Response{Code: code, Message: errors.GetMessage(err)})
}
