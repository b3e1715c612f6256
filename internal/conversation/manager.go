// Package conversation 会话控制器: 消息列表、折叠状态、取消句柄与历史加载。
//
// 每个会话同一时刻最多一个进行中的 turn。新的发送或重新生成先以
// apperrors.ErrAborted 取消旧 turn, 再重置折叠状态。所有事件在会话锁内
// 按流的顺序应用, 被取代的 turn 的迟到事件直接丢弃。
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/agentclient"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// ========================================
// 依赖
// ========================================

// Upstream agent runtime 的流式接口。
type Upstream interface {
	SendMessage(ctx context.Context, conversationID string, req agentclient.SendRequest, fn func(uistate.Event) error) error
	Regenerate(ctx context.Context, conversationID, messageID string, req agentclient.SendRequest, fn func(uistate.Event) error) error
}

// HistorySource 持久化 turn 的来源 (上游或本地 store)。
type HistorySource interface {
	ListTurns(ctx context.Context, conversationID string) ([]uistate.StoredTurn, error)
}

// Recorder 本地 turn 持久化, 可选。
type Recorder interface {
	SaveTurn(ctx context.Context, conversationID string, turn uistate.StoredTurn) error
	DeleteTurnsFrom(ctx context.Context, conversationID, turnID string) (int64, error)
}

// Publisher 会话变更的下游 (bus.MessageBus)。
type Publisher interface {
	PublishJSON(topic, typ string, payload any)
}

// Options Manager 配置。Upstream 与 History 必填。
type Options struct {
	Upstream Upstream
	History  HistorySource
	Recorder Recorder
	Labels   uistate.Labels
	Bus      Publisher
	// RequestTimeout 单个 turn 的流超时, 0 表示不限。
	RequestTimeout time.Duration
	NewID          uistate.IDFunc
}

// ========================================
// Manager
// ========================================

// Manager 持有全部会话。
type Manager struct {
	opts Options

	base       context.Context
	cancelBase context.CancelCauseFunc

	mu     sync.Mutex
	convs  map[string]*Conversation
	closed bool

	flight singleflight.Group
	wg     sync.WaitGroup
}

// NewManager 创建 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Upstream == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "conversation.NewManager", "upstream is required")
	}
	if opts.History == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "conversation.NewManager", "history source is required")
	}
	if opts.NewID == nil {
		opts.NewID = uistate.NewMessageID
	}
	base, cancel := context.WithCancelCause(context.Background())
	return &Manager{
		opts:       opts,
		base:       base,
		cancelBase: cancel,
		convs:      make(map[string]*Conversation),
	}, nil
}

// Get 返回已存在的会话。
func (m *Manager) Get(conversationID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	return c, ok
}

// conversation 取得或创建会话。
func (m *Manager) conversation(conversationID string) (*Conversation, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "conversation.Manager", "conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperrors.Wrap(apperrors.ErrAborted, "conversation.Manager", "manager closed")
	}
	c, ok := m.convs[id]
	if !ok {
		c = newConversation(id, m)
		m.convs[id] = c
	}
	return c, nil
}

// Count 当前会话数。
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Snapshot 会话当前状态; 会话不存在返回 ErrNotFound。
func (m *Manager) Snapshot(conversationID string) (Snapshot, error) {
	c, ok := m.Get(conversationID)
	if !ok {
		return Snapshot{}, apperrors.Wrapf(apperrors.ErrNotFound, "Manager.Snapshot", "conversation %s", conversationID)
	}
	return c.Snapshot(), nil
}

// Cancel 用户取消进行中的 turn (静默, 不产生错误消息)。无进行中 turn 时返回 false。
func (m *Manager) Cancel(conversationID string) bool {
	c, ok := m.Get(conversationID)
	if !ok {
		return false
	}
	return c.cancelActive("user cancel")
}

// Close 取消全部 turn 并等待后台流退出 (ctx 到期即返回)。
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancelBase(apperrors.ErrAborted)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("conversation: manager closed")
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), "Manager.Close", "wait for active turns")
	}
}
