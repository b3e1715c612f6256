package conversation

import (
	"sync"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/bus"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// State 面板标记。
type State struct {
	Thinking           bool   `json:"thinking"`
	Error              string `json:"error,omitempty"`
	NeedsClarification bool   `json:"needsClarification"`
	Streaming          bool   `json:"streaming"`
	ActiveTurnID       string `json:"activeTurnId,omitempty"`
}

// Snapshot 会话的完整视图。
type Snapshot struct {
	ConversationID string            `json:"conversationId"`
	Messages       []uistate.Message `json:"messages"`
	Artifact       *uistate.Artifact `json:"artifact,omitempty"`
	State          State             `json:"state"`
	HistoryLoaded  bool              `json:"historyLoaded"`
}

// Conversation 单个会话。所有字段由 mu 保护。
type Conversation struct {
	id  string
	mgr *Manager

	mu            sync.Mutex
	timeline      *uistate.Timeline
	fold          *uistate.FoldState
	artifact      *uistate.Artifact
	state         State
	historyLoaded bool
	active        *Turn
	lastSlug      string
}

func newConversation(id string, m *Manager) *Conversation {
	c := &Conversation{
		id:       id,
		mgr:      m,
		timeline: uistate.NewTimeline(),
		fold:     uistate.NewFoldState(m.opts.NewID),
	}
	c.timeline.Observe(c.publishChange)
	return c
}

// ID 会话 id。
func (c *Conversation) ID() string { return c.id }

// Snapshot 深拷贝当前视图。
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() Snapshot {
	s := Snapshot{
		ConversationID: c.id,
		Messages:       c.timeline.Items(),
		State:          c.state,
		HistoryLoaded:  c.historyLoaded,
	}
	if c.artifact != nil {
		a := *c.artifact
		s.Artifact = &a
	}
	return s
}

// ========================================
// 发布
// ========================================

func (c *Conversation) topic() string { return bus.ConversationTopic(c.id) }

func (c *Conversation) publishChange(ch uistate.Change) {
	if c.mgr.opts.Bus == nil {
		return
	}
	typ := bus.MsgUpsert
	switch ch.Op {
	case uistate.ChangeRemove:
		typ = bus.MsgRemove
	case uistate.ChangeReset:
		typ = bus.MsgReset
	}
	c.mgr.opts.Bus.PublishJSON(c.topic(), typ, ch)
}

func (c *Conversation) publishState() {
	if c.mgr.opts.Bus != nil {
		c.mgr.opts.Bus.PublishJSON(c.topic(), bus.MsgState, c.state)
	}
}

func (c *Conversation) publishArtifact() {
	if c.mgr.opts.Bus != nil {
		c.mgr.opts.Bus.PublishJSON(c.topic(), bus.MsgArtifact, c.artifact)
	}
}

// ========================================
// 事件应用 (持锁)
// ========================================

// hooksLocked 分发回调, 只在持锁的 apply 内调用。
func (c *Conversation) hooksLocked(t *Turn) uistate.Hooks {
	return uistate.Hooks{
		OnArtifact: func(markdown string) {
			c.artifact = &uistate.Artifact{Type: uistate.ArtifactTypeMarkdown, Data: markdown, MessageID: t.messageID}
			c.publishArtifact()
		},
		OnStructuredArtifact: func(kind string, data any, messageID string) {
			c.artifact = &uistate.Artifact{Type: kind, Data: data, MessageID: messageID}
			c.publishArtifact()
		},
		OnThinking: func(active bool) {
			c.state.Thinking = active
			c.publishState()
		},
		OnError: func(message string) {
			c.state.Error = message
			c.publishState()
		},
		OnClarification: func(needed bool) {
			c.state.NeedsClarification = needed
			c.publishState()
		},
	}
}

// apply 把一个事件应用到会话。turn 已被取代时返回 errStaleTurn 以终止读流。
func (c *Conversation) apply(t *Turn, ev uistate.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != t {
		return errStaleTurn
	}

	t.record(ev)
	dc := &uistate.Context{
		AgentSlug: t.agentSlug,
		Timeline:  c.timeline,
		Fold:      c.fold,
		Labels:    c.mgr.opts.Labels,
		Hooks:     c.hooksLocked(t),
		NewID:     c.mgr.opts.NewID,
	}
	out := uistate.Dispatch(ev, dc)
	for _, m := range out {
		if m.Sender == uistate.SenderLLM && m.APIMessageID == "" {
			t.untagged = append(t.untagged, m.ID)
		}
	}
	c.tagTurnLocked(t)
	return nil
}

// tagTurnLocked 拿到后端 message_id 后, 给本 turn 尚未关联的 llm 消息补上 apiMessageId。
func (c *Conversation) tagTurnLocked(t *Turn) {
	if t.messageID == "" || len(t.untagged) == 0 {
		return
	}
	for _, id := range t.untagged {
		i := c.timeline.Index(id)
		if i < 0 {
			continue
		}
		if m := c.timeline.At(i); m.APIMessageID != "" {
			continue
		}
		c.timeline.Patch(i, func(m *uistate.Message) { m.APIMessageID = t.messageID })
	}
	t.untagged = t.untagged[:0]
}

// flushLocked 关闭仍在流式中的 thinking / text 消息。
func (c *Conversation) flushLocked(t *Turn) {
	for _, m := range c.fold.Flush() {
		c.timeline.Upsert(m)
		if m.APIMessageID == "" {
			t.untagged = append(t.untagged, m.ID)
		}
	}
	c.tagTurnLocked(t)
}

// appendErrorLocked 追加一条可见错误消息。
func (c *Conversation) appendErrorLocked(text string) {
	c.state.Error = text
	c.timeline.Upsert(uistate.Message{
		ID:     c.mgr.opts.NewID(),
		Sender: uistate.SenderLLM,
		Kind:   uistate.KindError,
		Data:   uistate.MessageData{Content: text},
	})
}

// dropOrphanArtifactLocked 产物所属消息已被截断时清空面板。
func (c *Conversation) dropOrphanArtifactLocked() {
	if c.artifact == nil {
		return
	}
	owner := c.artifact.MessageID
	if owner != "" {
		if c.timeline.Index(owner) >= 0 {
			return
		}
		if c.timeline.LastIndex(func(m uistate.Message) bool { return m.APIMessageID == owner }) >= 0 {
			return
		}
	}
	c.artifact = nil
	c.publishArtifact()
}

// cancelActive 以 ErrAborted 取消当前 turn。
func (c *Conversation) cancelActive(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelActiveLocked(reason)
}

func (c *Conversation) cancelActiveLocked(reason string) bool {
	if c.active == nil {
		return false
	}
	logger.Info("conversation: turn aborted",
		logger.FieldConversationID, c.id,
		logger.FieldTurnID, c.active.ID,
		"reason", reason,
	)
	c.active.cancel(apperrors.ErrAborted)
	return true
}
