package handlers

import (
	"net/http"
	"time"

	"TrailSafe/internal/models"
	"TrailSafe/pkg/errors"
	"TrailSafe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 客户端为原生 App，不做 Origin 校验
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// handlePositionStream WebSocket 位置流。客户端持续推送定位点，
// 服务端逐点评估并把处理结果（含新开警报）回推。
func (h *Handlers) handlePositionStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := models.GetMonitoringSession(h.db, sessionID); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var point models.GeoPoint
		if err := conn.ReadJSON(&point); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("position stream closed unexpectedly",
					zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}

		report, err := h.svc.ReportPosition(c.Request.Context(), sessionID, point)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err != nil {
			writeErr := conn.WriteJSON(gin.H{"error": errors.GetMessage(err), "code": errors.GetCode(err)})
			// 会话已结束时让客户端停止推流
			if errors.IsCode(err, errors.CodeSessionClosed) || writeErr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(report); err != nil {
			return
		}
	}
}
