// Package apiserver 会话 relay 的 HTTP 入口: REST + SSE / WebSocket 变更推送。
package apiserver

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/bus"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/conversation"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

const (
	maxConnections   = 512
	connOutboxSize   = 256
	maxMessageSize   = 64 << 10
	defaultKeepAlive = 30 * time.Second
)

// Deps 服务器依赖注入。
type Deps struct {
	Manager *conversation.Manager
	Bus     *bus.MessageBus
	// SendRatePerMin 每个会话每分钟允许的发送 / 重新生成次数。
	SendRatePerMin int
	// KeepAlive SSE / WebSocket 心跳间隔。
	KeepAlive      time.Duration
	AllowedOrigins []string
	Development    bool
}

// Server HTTP 服务。
type Server struct {
	router    *gin.Engine
	mgr       *conversation.Manager
	bus       *bus.MessageBus
	limiter   *sendLimiter
	keepAlive time.Duration
	origins   []string
	upgrader  websocket.Upgrader

	nextID atomic.Int64
	conns  atomic.Int64
}

// New 创建服务并注册路由。
func New(deps Deps) *Server {
	if deps.Development {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	keepAlive := deps.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{
		router:    r,
		mgr:       deps.Manager,
		bus:       deps.Bus,
		limiter:   newSendLimiter(deps.SendRatePerMin),
		keepAlive: keepAlive,
		origins:   normalizeOrigins(deps.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// ServeHTTP 实现 http.Handler。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// registerRoutes 注册路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/ws", s.handleUpgrade)

	api := s.router.Group("/api/conversations/:id")
	api.GET("/messages", s.loadMessages)
	api.POST("/messages", s.sendMessage)
	api.POST("/messages/:messageId/regenerate", s.regenerate)
	api.POST("/cancel", s.cancel)
	api.GET("/snapshot", s.snapshot)
	api.GET("/events", s.sseHandler)
}

// requestLogger gin 访问日志 (slog)。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		logger.Debug("http request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.FullPath(),
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldLatencyMS, time.Since(start).Milliseconds(),
			logger.FieldRemote, c.ClientIP(),
		)
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/")); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// checkOrigin 无 Origin (非浏览器) 与本机来源放行, 其余需在白名单中。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.ToLower(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	for _, local := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if origin == local || strings.HasPrefix(origin, local+":") {
			return true
		}
	}
	logger.Warn("apiserver: rejected origin", logger.FieldOrigin, origin)
	return false
}
