package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/agentclient"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/util"
)

// TimeoutMessage 流超时时显示的错误文案。
const TimeoutMessage = "The request timed out. Please try again."

var errStaleTurn = errors.New("conversation: turn superseded")

// SendInput 用户发送内容。
type SendInput struct {
	Content     string               `json:"content"`
	AgentSlug   string               `json:"agent_slug,omitempty"`
	Attachments []uistate.Attachment `json:"attachments,omitempty"`
}

// Turn 一次进行中的请求。
type Turn struct {
	ID             string
	ConversationID string

	ctx     context.Context
	cancel  context.CancelCauseFunc
	release context.CancelFunc
	done    chan struct{}
	err     error

	// 以下字段只在会话锁内读写
	agentSlug string
	messageID string
	untagged  []string
	events    []json.RawMessage
	content   strings.Builder
}

// Done turn 结束时关闭。
func (t *Turn) Done() <-chan struct{} { return t.done }

// Err turn 结束后的结果; 用户取消或被取代时为 ErrAborted。
func (t *Turn) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait 阻塞到 turn 结束或 ctx 到期。
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record 保存原始事件并累积正文 / 后端消息 id。
func (t *Turn) record(ev uistate.Event) {
	raw := ev.Raw
	if len(raw) == 0 {
		raw = ev.MarshalRaw()
	}
	t.events = append(t.events, raw)
	if ev.Type == uistate.EventContentChunk {
		t.content.WriteString(ev.String("content", "delta", "text"))
	}
	if id := ev.MessageID(); id != "" {
		t.messageID = id
	}
}

// storedTurn turn 结束时写入 Recorder 的记录。
func (t *Turn) storedTurn() uistate.StoredTurn {
	return uistate.StoredTurn{
		ID:     uistate.TurnID(util.FirstNonEmpty(t.messageID, t.ID)),
		Sender: uistate.TurnSenderAgent,
		Data: uistate.StoredTurnData{
			Content:   t.content.String(),
			RawEvents: t.events,
			AgentSlug: t.agentSlug,
		},
	}
}

type streamFunc func(ctx context.Context, fn func(uistate.Event) error) error

// ========================================
// Send / Regenerate
// ========================================

// Send 追加用户消息并开始流式请求。返回的 Turn 在后台运行。
func (m *Manager) Send(ctx context.Context, conversationID string, in SendInput) (*Turn, error) {
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Manager.Send", "content or attachments required")
	}
	c, err := m.conversation(conversationID)
	if err != nil {
		return nil, err
	}

	userTurn := uistate.StoredTurn{
		ID:     uistate.TurnID(m.opts.NewID()),
		Sender: uistate.TurnSenderUser,
		Data:   uistate.StoredTurnData{Content: in.Content, Attachments: in.Attachments},
	}

	c.mu.Lock()
	t, err := c.beginTurnLocked(in.AgentSlug, "new send")
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	for _, msg := range uistate.UserMessages(userTurn) {
		msg.ID = m.opts.NewID()
		c.timeline.Upsert(msg)
	}
	c.mu.Unlock()

	m.record(ctx, c.id, userTurn)

	req := agentclient.SendRequest{Message: in.Content, AgentSlug: in.AgentSlug, Attachments: in.Attachments}
	m.run(c, t, func(ctx context.Context, fn func(uistate.Event) error) error {
		return m.opts.Upstream.SendMessage(ctx, c.id, req, fn)
	})
	return t, nil
}

// Regenerate 截断到触发消息之前的用户消息, 然后以持久化 id 重新生成。
//
// 截断后的列表保留该用户消息 (含); 若前面没有用户消息则只删到触发消息之前。
func (m *Manager) Regenerate(ctx context.Context, conversationID, messageID string) (*Turn, error) {
	const op = "Manager.Regenerate"
	c, ok := m.Get(conversationID)
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, op, "conversation %s", conversationID)
	}

	c.mu.Lock()
	idx := c.timeline.Index(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, op, "message %s", messageID)
	}
	target := c.timeline.At(idx)
	if target.Sender != uistate.SenderLLM || target.APIMessageID == "" {
		c.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, op, "message %s has no stored agent turn", messageID)
	}
	storedID := target.APIMessageID
	slug := c.lastSlug

	// 先取消旧流, 再截断, 保证截断后不再有旧事件写入
	t, err := c.beginTurnLocked(slug, "regenerate")
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if c.timeline.At(i).Sender == uistate.SenderUser {
			userIdx = i
			break
		}
	}
	if userIdx >= 0 {
		// 用户消息后可能紧跟附件消息, 一并保留
		for userIdx+1 < idx && c.timeline.At(userIdx+1).Sender == uistate.SenderUser {
			userIdx++
		}
		c.timeline.TruncateAfter(userIdx)
	} else {
		c.timeline.TruncateAfter(idx - 1)
	}
	c.dropOrphanArtifactLocked()
	c.mu.Unlock()

	if m.opts.Recorder != nil {
		n, err := m.opts.Recorder.DeleteTurnsFrom(ctx, c.id, storedID)
		if err != nil {
			logger.Warn("conversation: delete stored turns failed",
				logger.FieldConversationID, c.id,
				logger.FieldMessageID, storedID,
				logger.FieldError, err)
		} else {
			logger.Debug("conversation: stored turns truncated",
				logger.FieldConversationID, c.id,
				logger.FieldMessageID, storedID,
				logger.FieldCount, n)
		}
	}

	req := agentclient.SendRequest{AgentSlug: slug}
	m.run(c, t, func(ctx context.Context, fn func(uistate.Event) error) error {
		return m.opts.Upstream.Regenerate(ctx, c.id, storedID, req, fn)
	})
	return t, nil
}

// beginTurnLocked 取代旧 turn, 重置折叠状态与面板标记, 注册新 turn。
func (c *Conversation) beginTurnLocked(agentSlug, reason string) (*Turn, error) {
	m := c.mgr
	ctx, cancel, release, err := m.turnContext()
	if err != nil {
		return nil, err
	}
	c.cancelActiveLocked(reason)

	t := &Turn{
		ID:             m.opts.NewID(),
		ConversationID: c.id,
		ctx:            ctx,
		cancel:         cancel,
		release:        release,
		done:           make(chan struct{}),
		agentSlug:      agentSlug,
	}
	c.active = t
	c.lastSlug = agentSlug
	c.fold.Reset()
	c.state = State{Thinking: true, Streaming: true, ActiveTurnID: t.ID}
	c.publishState()
	return t, nil
}

// ========================================
// 后台流
// ========================================

// turnContext 派生 turn 的 ctx 并登记到 wg。Manager 关闭后返回 ErrAborted。
func (m *Manager) turnContext() (context.Context, context.CancelCauseFunc, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, nil, apperrors.Wrap(apperrors.ErrAborted, "conversation.Manager", "manager closed")
	}
	m.wg.Add(1)

	ctx, cancel := context.WithCancelCause(m.base)
	release := func() {}
	if m.opts.RequestTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, m.opts.RequestTimeout, apperrors.ErrTimeout)
		release = stop
	}
	return ctx, cancel, release, nil
}

// run 在后台执行流并在结束时收尾。
func (m *Manager) run(c *Conversation, t *Turn, stream streamFunc) {
	util.SafeGo("conversation.turn", func() {
		defer m.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.Newf("conversation.run", "panic: %v", r)
			}
			c.finish(t, err)
		}()
		err = stream(t.ctx, func(ev uistate.Event) error { return c.apply(t, ev) })
	})
}

// finish turn 收尾: 关闭流式消息, 按取消原因决定是否显示错误, 持久化 agent turn。
func (c *Conversation) finish(t *Turn, streamErr error) {
	cause := context.Cause(t.ctx)
	t.release()
	t.cancel(nil)

	c.mu.Lock()
	stale := c.active != t
	var visible error
	switch {
	case stale || errors.Is(streamErr, errStaleTurn):
		// 被新 turn 取代: 折叠状态已属于新 turn, 不再触碰
		visible = apperrors.Wrap(apperrors.ErrAborted, "conversation.Turn", "superseded")
	case streamErr == nil:
	case errors.Is(cause, apperrors.ErrAborted):
		visible = apperrors.Wrap(apperrors.ErrAborted, "conversation.Turn", "cancelled")
	case errors.Is(cause, apperrors.ErrTimeout):
		visible = apperrors.Wrap(apperrors.ErrTimeout, "conversation.Turn", "stream timed out")
	default:
		visible = streamErr
	}

	if !stale {
		c.flushLocked(t)
		switch {
		case visible == nil:
		case errors.Is(visible, apperrors.ErrAborted):
		case errors.Is(visible, apperrors.ErrTimeout):
			c.appendErrorLocked(TimeoutMessage)
		default:
			c.appendErrorLocked(uistate.DefaultErrorMessage)
		}
		c.active = nil
		c.state.Thinking = false
		c.state.Streaming = false
		c.state.ActiveTurnID = ""
		c.publishState()
	}
	var stored *uistate.StoredTurn
	if !stale && len(t.events) > 0 {
		st := t.storedTurn()
		stored = &st
	}
	c.mu.Unlock()

	logTurnEnd(c.id, t, visible)
	if stored != nil {
		c.mgr.record(context.WithoutCancel(t.ctx), c.id, *stored)
	}
	t.err = visible
	close(t.done)
}

func logTurnEnd(conversationID string, t *Turn, err error) {
	switch {
	case err == nil:
		logger.Info("conversation: turn completed",
			logger.FieldConversationID, conversationID,
			logger.FieldTurnID, t.ID,
			logger.FieldMessageID, t.messageID,
			logger.FieldCount, len(t.events))
	case errors.Is(err, apperrors.ErrAborted):
		logger.Debug("conversation: turn ended by abort",
			logger.FieldConversationID, conversationID,
			logger.FieldTurnID, t.ID)
	default:
		logger.Warn("conversation: turn failed",
			logger.FieldConversationID, conversationID,
			logger.FieldTurnID, t.ID,
			logger.FieldError, err)
	}
}

// record 写入 Recorder; 失败只记录日志, 不影响会话。
func (m *Manager) record(ctx context.Context, conversationID string, turn uistate.StoredTurn) {
	if m.opts.Recorder == nil {
		return
	}
	if err := m.opts.Recorder.SaveTurn(ctx, conversationID, turn); err != nil {
		logger.Warn("conversation: save turn failed",
			logger.FieldConversationID, conversationID,
			logger.FieldTurnID, string(turn.ID),
			logger.FieldError, err)
	}
}
