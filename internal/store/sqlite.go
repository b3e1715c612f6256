package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS superagent_turns (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		sender          TEXT NOT NULL,
		agent_slug      TEXT NOT NULL DEFAULT '',
		content         TEXT NOT NULL DEFAULT '',
		attachments     TEXT NOT NULL DEFAULT '[]',
		raw_events      TEXT NOT NULL DEFAULT '[]',
		feedback        TEXT,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_superagent_turns_conv_seq ON superagent_turns(conversation_id, seq);
`

// SQLiteTurnStore 单文件 turn 存储, 本地开发默认驱动。
type SQLiteTurnStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteTurnStore 打开 (或创建) dbPath 并建表。":memory:" 用于测试。
func NewSQLiteTurnStore(dbPath string) (*SQLiteTurnStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, apperrors.Wrap(err, "NewSQLiteTurnStore", "create data dir")
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(err, "NewSQLiteTurnStore", "open database")
	}
	// 单连接: 避免 SQLITE_BUSY, 同时保证 :memory: 共享同一库
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`, sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, apperrors.Wrap(err, "NewSQLiteTurnStore", "init schema")
		}
	}
	logger.Infow("sqlite turn store opened", logger.FieldPath, dbPath)
	return &SQLiteTurnStore{db: db, path: dbPath}, nil
}

// Path 数据库文件路径。
func (s *SQLiteTurnStore) Path() string { return s.path }

// SaveTurn upsert 一个 turn。
func (s *SQLiteTurnStore) SaveTurn(ctx context.Context, conversationID string, turn uistate.StoredTurn) error {
	if err := prepareTurn("SQLiteTurnStore.SaveTurn", conversationID, &turn); err != nil {
		return err
	}
	row, err := encodeTurn(turn)
	if err != nil {
		return apperrors.Wrap(err, "SQLiteTurnStore.SaveTurn", "encode turn")
	}
	var feedback any
	if row.Feedback != nil {
		feedback = string(row.Feedback)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO superagent_turns (id, conversation_id, sender, agent_slug, content, attachments, raw_events, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_slug  = excluded.agent_slug,
			content     = excluded.content,
			attachments = excluded.attachments,
			raw_events  = excluded.raw_events,
			feedback    = excluded.feedback`,
		row.ID, conversationID, row.Sender, row.AgentSlug, row.Content,
		string(row.Attachments), string(row.RawEvents), feedback, time.Now().UnixMilli(),
	)
	if err != nil {
		return apperrors.Wrapf(err, "SQLiteTurnStore.SaveTurn", "insert turn %s", row.ID)
	}
	return nil
}

// ListTurns 按 seq 升序。
func (s *SQLiteTurnStore) ListTurns(ctx context.Context, conversationID string) ([]uistate.StoredTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, agent_slug, content, attachments, raw_events, feedback
		FROM superagent_turns
		WHERE conversation_id = ?
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, apperrors.Wrap(err, "SQLiteTurnStore.ListTurns", "query turns")
	}
	defer rows.Close()

	turns := []uistate.StoredTurn{}
	for rows.Next() {
		var r turnRow
		if err := rows.Scan(&r.ID, &r.Sender, &r.AgentSlug, &r.Content, &r.Attachments, &r.RawEvents, &r.Feedback); err != nil {
			return nil, apperrors.Wrap(err, "SQLiteTurnStore.ListTurns", "scan turn")
		}
		turns = append(turns, r.decode())
	}
	return turns, rows.Err()
}

// DeleteTurnsFrom 删除 seq >= 目标 turn 的记录。
func (s *SQLiteTurnStore) DeleteTurnsFrom(ctx context.Context, conversationID, turnID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM superagent_turns
		WHERE conversation_id = ?
		  AND seq >= (SELECT seq FROM superagent_turns WHERE conversation_id = ? AND id = ?)`,
		conversationID, conversationID, turnID)
	if err != nil {
		return 0, apperrors.Wrapf(err, "SQLiteTurnStore.DeleteTurnsFrom", "delete from %s", turnID)
	}
	return res.RowsAffected()
}

// Close 关闭数据库。
func (s *SQLiteTurnStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
