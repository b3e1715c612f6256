// handler.go — 会话 REST handlers。
package apiserver

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/conversation"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

type sendBody struct {
	Content     string               `json:"content"`
	AgentSlug   string               `json:"agent_slug"`
	Attachments []uistate.Attachment `json:"attachments"`
}

type turnResponse struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) healthz(c *gin.Context) {
	success(c, gin.H{
		"status":        "ok",
		"conversations": s.mgr.Count(),
		"subscribers":   s.bus.SubscriberCount(),
	})
}

// loadMessages GET /api/conversations/:id/messages[?inline_first=1]
func (s *Server) loadMessages(c *gin.Context) {
	snap, err := s.mgr.LoadHistory(c.Request.Context(), c.Param("id"), conversation.LoadOptions{
		InlineFirstMessage: queryBool(c, "inline_first"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	success(c, snap)
}

// sendMessage POST /api/conversations/:id/messages
func (s *Server) sendMessage(c *gin.Context) {
	id := c.Param("id")
	var body sendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if !s.allow(c, id) {
		return
	}
	turn, err := s.mgr.Send(c.Request.Context(), id, conversation.SendInput{
		Content:     body.Content,
		AgentSlug:   strings.TrimSpace(body.AgentSlug),
		Attachments: body.Attachments,
	})
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, turnResponse{TurnID: turn.ID, ConversationID: id})
}

// regenerate POST /api/conversations/:id/messages/:messageId/regenerate
func (s *Server) regenerate(c *gin.Context) {
	id := c.Param("id")
	if !s.allow(c, id) {
		return
	}
	turn, err := s.mgr.Regenerate(c.Request.Context(), id, c.Param("messageId"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, turnResponse{TurnID: turn.ID, ConversationID: id})
}

// cancel POST /api/conversations/:id/cancel
func (s *Server) cancel(c *gin.Context) {
	success(c, gin.H{"cancelled": s.mgr.Cancel(c.Param("id"))})
}

// snapshot GET /api/conversations/:id/snapshot
func (s *Server) snapshot(c *gin.Context) {
	snap, err := s.mgr.Snapshot(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, snap)
}

// allow 发送限流; 超限时直接写 429。
func (s *Server) allow(c *gin.Context, conversationID string) bool {
	if s.limiter.Allow(conversationID) {
		return true
	}
	logger.Warn("apiserver: send rate limited", logger.FieldConversationID, conversationID)
	fail(c, apperrors.Wrapf(apperrors.ErrRateLimited, "apiserver.send", "too many requests for conversation %s", conversationID))
	return false
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}
