// sse.go — 会话变更 SSE 推送。
package apiserver

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/bus"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// sseHandler GET /api/conversations/:id/events
//
// 事件名即 bus.Message.Type (upsert / remove / reset / state / artifact), data 为整条消息 JSON。
func (s *Server) sseHandler(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		badRequest(c, "conversation id is required")
		return
	}
	clientID := fmt.Sprintf("sse-%d", s.nextID.Add(1))
	sub := s.bus.Subscribe(clientID, bus.ConversationTopic(conversationID))
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("apiserver: SSE client disconnected", logger.FieldSubscriber, clientID)
	}()
	logger.Info("apiserver: SSE client connected",
		logger.FieldSubscriber, clientID,
		logger.FieldConversationID, conversationID)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	keepalive := time.NewTimer(s.keepAlive)
	defer keepalive.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, msg)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(s.keepAlive)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(s.keepAlive)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
