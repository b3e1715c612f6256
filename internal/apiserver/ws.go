// ws.go — WebSocket 变更推送: 每连接一个 bus 订阅 + 串行写出。
package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/bus"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/util"
)

const writeTimeout = 10 * time.Second

type wsOutbound struct {
	msgType int
	data    []byte
}

// connEntry WebSocket 连接 + 写锁 (gorilla/websocket 不安全并发写)。
type connEntry struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex
	outbox    chan wsOutbound
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConnEntry(ws *websocket.Conn) *connEntry {
	return &connEntry{
		ws:      ws,
		outbox:  make(chan wsOutbound, connOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *connEntry) writeMsg(msgType int, data []byte) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(msgType, data)
}

// enqueue 非阻塞入队; 已关闭或 outbox 满返回 false。
func (c *connEntry) enqueue(msgType int, data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- wsOutbound{msgType: msgType, data: data}:
		return true
	default:
		return false
	}
}

func (c *connEntry) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *connEntry) writeLoop() error {
	for {
		select {
		case <-c.closeCh:
			return nil
		case msg := <-c.outbox:
			if err := c.writeMsg(msg.msgType, msg.data); err != nil {
				return err
			}
		}
	}
}

// handleUpgrade GET /ws?conversation_id=<id>
func (s *Server) handleUpgrade(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		badRequest(c, "conversation_id is required")
		return
	}
	if n := s.conns.Add(1); n > maxConnections {
		s.conns.Add(-1)
		logger.Warn("apiserver: connection rejected (max reached)", logger.FieldCount, n-1)
		failure(c, http.StatusServiceUnavailable, "UNAVAILABLE", "too many connections")
		return
	}
	defer s.conns.Add(-1)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("apiserver: upgrade failed", logger.FieldError, err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	connID := fmt.Sprintf("ws-%d", s.nextID.Add(1))
	entry := newConnEntry(ws)
	sub := s.bus.Subscribe(connID, bus.ConversationTopic(conversationID))
	logger.Info("apiserver: client connected",
		logger.FieldSubscriber, connID,
		logger.FieldConversationID, conversationID,
		logger.FieldRemote, c.Request.RemoteAddr)

	defer func() {
		s.bus.Unsubscribe(connID)
		entry.closeNow()
		logger.Info("apiserver: client disconnected", logger.FieldSubscriber, connID)
	}()

	util.SafeGo("apiserver.ws.write", func() {
		if err := entry.writeLoop(); err != nil {
			logger.Warn("apiserver: write loop failed", logger.FieldSubscriber, connID, logger.FieldError, err)
			entry.closeNow()
		}
	})
	util.SafeGo("apiserver.ws.forward", func() { s.forward(entry, sub, connID) })

	s.readLoop(entry)
}

// forward bus → outbox, 附带心跳。outbox 满视为慢客户端, 断开。
func (s *Server) forward(entry *connEntry, sub *bus.Subscriber, connID string) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-entry.closeCh:
			return
		case msg, ok := <-sub.Ch:
			if !ok {
				entry.closeNow()
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("apiserver: marshal message failed", logger.FieldError, err)
				continue
			}
			if !entry.enqueue(websocket.TextMessage, data) {
				logger.Warn("apiserver: outbox full, closing", logger.FieldSubscriber, connID)
				entry.closeNow()
				return
			}
		case <-ticker.C:
			entry.wrMu.Lock()
			err := entry.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			entry.wrMu.Unlock()
			if err != nil {
				entry.closeNow()
				return
			}
		}
	}
}

// readLoop 仅用于感知断开; 客户端消息被丢弃。
func (s *Server) readLoop(entry *connEntry) {
	for {
		if _, _, err := entry.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("apiserver: read error", logger.FieldError, err)
			}
			return
		}
	}
}
