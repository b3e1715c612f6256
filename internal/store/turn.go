// Package store 会话 turn 持久化 (PostgreSQL / SQLite)。
package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

// TurnStore 按会话保存 / 读取 / 截断 turn。
type TurnStore interface {
	// SaveTurn 以 turn.ID 为键 upsert; 空 ID 自动生成。
	SaveTurn(ctx context.Context, conversationID string, turn uistate.StoredTurn) error
	// ListTurns 按写入顺序返回会话全部 turn。
	ListTurns(ctx context.Context, conversationID string) ([]uistate.StoredTurn, error)
	// DeleteTurnsFrom 删除 turnID 及其之后的 turn; turnID 不存在时不删除。
	DeleteTurnsFrom(ctx context.Context, conversationID, turnID string) (int64, error)
	Close() error
}

// prepareTurn 校验参数并补全 ID / sender。
func prepareTurn(op, conversationID string, turn *uistate.StoredTurn) error {
	if strings.TrimSpace(conversationID) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "conversation id is required")
	}
	if turn.ID == "" {
		turn.ID = uistate.TurnID(uuid.NewString())
	}
	if turn.Sender == "" {
		turn.Sender = uistate.TurnSenderAgent
	}
	return nil
}
