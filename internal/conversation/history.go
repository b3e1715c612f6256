package conversation

import (
	"context"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// LoadOptions 历史加载选项。
type LoadOptions struct {
	// InlineFirstMessage 首条消息已由调用方随页面一起带入 (乐观发送),
	// 此时跳过历史拉取, 避免覆盖正在进行的第一个 turn。
	InlineFirstMessage bool
}

// LoadHistory 每个会话只拉取一次历史并重建消息列表。
//
// 并发调用经 singleflight 合并; 拉取失败不标记已加载, 下次调用会重试。
// 拉取期间若已有 turn 开始, 不替换列表 (保留实时消息)。
func (m *Manager) LoadHistory(ctx context.Context, conversationID string, opts LoadOptions) (Snapshot, error) {
	c, err := m.conversation(conversationID)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	if c.historyLoaded || opts.InlineFirstMessage {
		c.historyLoaded = true
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, shared := m.flight.Do(c.id, func() (any, error) {
		turns, err := m.opts.History.ListTurns(ctx, c.id)
		if err != nil {
			return nil, err
		}
		return uistate.ReconstructConversation(turns, m.opts.Labels), nil
	})
	if err != nil {
		logger.Warn("conversation: history fetch failed",
			logger.FieldConversationID, c.id,
			logger.FieldError, err)
		return Snapshot{}, apperrors.Wrapf(err, "Manager.LoadHistory", "fetch history for %s", c.id)
	}
	rec := v.(uistate.Reconstruction)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.historyLoaded:
	case c.active != nil:
		logger.Info("conversation: history skipped, turn in flight",
			logger.FieldConversationID, c.id,
			logger.FieldTurnID, c.active.ID)
		c.historyLoaded = true
	default:
		c.timeline.Reset(cloneMessages(rec.Messages))
		c.artifact = rec.Artifact
		if c.artifact != nil {
			a := *c.artifact
			c.artifact = &a
		}
		c.publishArtifact()
		c.historyLoaded = true
		logger.Info("conversation: history loaded",
			logger.FieldConversationID, c.id,
			logger.FieldCount, len(rec.Messages),
			"shared", shared)
	}
	return c.snapshotLocked(), nil
}

// cloneMessages singleflight 结果可能被多个调用方共享, 写入前深拷贝。
func cloneMessages(msgs []uistate.Message) []uistate.Message {
	out := make([]uistate.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
