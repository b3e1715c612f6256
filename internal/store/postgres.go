package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

// PGTurnStore superagent_turns 表 (schema 由 migrations 创建)。
type PGTurnStore struct{ BaseStore }

// NewPGTurnStore 创建 PostgreSQL turn store。
func NewPGTurnStore(pool *pgxpool.Pool) *PGTurnStore {
	return &PGTurnStore{NewBaseStore(pool)}
}

// SaveTurn upsert 一个 turn。
func (s *PGTurnStore) SaveTurn(ctx context.Context, conversationID string, turn uistate.StoredTurn) error {
	if err := prepareTurn("PGTurnStore.SaveTurn", conversationID, &turn); err != nil {
		return err
	}
	row, err := encodeTurn(turn)
	if err != nil {
		return apperrors.Wrap(err, "PGTurnStore.SaveTurn", "encode turn")
	}
	var feedback any
	if row.Feedback != nil {
		feedback = string(row.Feedback)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO superagent_turns (id, conversation_id, sender, agent_slug, content, attachments, raw_events, feedback)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			agent_slug  = EXCLUDED.agent_slug,
			content     = EXCLUDED.content,
			attachments = EXCLUDED.attachments,
			raw_events  = EXCLUDED.raw_events,
			feedback    = EXCLUDED.feedback`,
		row.ID, conversationID, row.Sender, row.AgentSlug, row.Content,
		string(row.Attachments), string(row.RawEvents), feedback,
	)
	if err != nil {
		return apperrors.Wrapf(err, "PGTurnStore.SaveTurn", "insert turn %s", row.ID)
	}
	return nil
}

// ListTurns 按 seq 升序。
func (s *PGTurnStore) ListTurns(ctx context.Context, conversationID string) ([]uistate.StoredTurn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, agent_slug, content, attachments, raw_events, feedback
		FROM superagent_turns
		WHERE conversation_id = $1
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, apperrors.Wrap(err, "PGTurnStore.ListTurns", "query turns")
	}
	items, err := collectRows[turnRow](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "PGTurnStore.ListTurns", "scan turns")
	}
	turns := make([]uistate.StoredTurn, 0, len(items))
	for _, r := range items {
		turns = append(turns, r.decode())
	}
	return turns, nil
}

// DeleteTurnsFrom 删除 seq >= 目标 turn 的记录。
func (s *PGTurnStore) DeleteTurnsFrom(ctx context.Context, conversationID, turnID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM superagent_turns
		WHERE conversation_id = $1
		  AND seq >= (SELECT seq FROM superagent_turns WHERE conversation_id = $1 AND id = $2)`,
		conversationID, turnID)
	if err != nil {
		return 0, apperrors.Wrapf(err, "PGTurnStore.DeleteTurnsFrom", "delete from %s", turnID)
	}
	return tag.RowsAffected(), nil
}

// Close 关闭连接池。
func (s *PGTurnStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
