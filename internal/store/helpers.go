// helpers.go — Store 层通用工具。
//
//   - BaseStore:   持有 pgx 连接池, 供 PostgreSQL 实现嵌入
//   - collectRows: pgx row → Go struct 泛型扫描
//   - JSON 列编解码 (attachments / raw_events / feedback)
package store

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
)

// BaseStore PostgreSQL store 的嵌入基底，持有连接池。
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore 创建 BaseStore。
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// Pool 返回连接池。
func (b BaseStore) Pool() *pgxpool.Pool { return b.pool }

// collectRows 使用 pgx.CollectRows + RowToStructByName 扫描行到 struct slice。
func collectRows[T any](rows pgx.Rows) ([]T, error) {
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

// ========================================
// turnRow 两种驱动共用的行结构
// ========================================

// turnRow superagent_turns 一行。JSON 列以原始字节保存。
type turnRow struct {
	ID          string `db:"id"`
	Sender      string `db:"sender"`
	AgentSlug   string `db:"agent_slug"`
	Content     string `db:"content"`
	Attachments []byte `db:"attachments"`
	RawEvents   []byte `db:"raw_events"`
	Feedback    []byte `db:"feedback"`
}

// encodeTurn StoredTurn → 行。nil 切片写成 "[]"，nil feedback 写 NULL。
func encodeTurn(t uistate.StoredTurn) (turnRow, error) {
	row := turnRow{
		ID:        string(t.ID),
		Sender:    t.Sender,
		AgentSlug: t.Data.AgentSlug,
		Content:   t.Data.Content,
	}
	var err error
	if row.Attachments, err = marshalList(t.Data.Attachments); err != nil {
		return row, err
	}
	events := t.Data.RawEvents
	if events == nil {
		events = []json.RawMessage{}
	}
	if row.RawEvents, err = json.Marshal(events); err != nil {
		return row, err
	}
	if t.Data.Feedback != nil {
		if row.Feedback, err = json.Marshal(t.Data.Feedback); err != nil {
			return row, err
		}
	}
	return row, nil
}

// decode 行 → StoredTurn。损坏的 JSON 列按空值处理。
func (r turnRow) decode() uistate.StoredTurn {
	t := uistate.StoredTurn{
		ID:     uistate.TurnID(r.ID),
		Sender: r.Sender,
		Data: uistate.StoredTurnData{
			Content:   r.Content,
			AgentSlug: r.AgentSlug,
		},
	}
	if len(r.Attachments) > 0 {
		_ = json.Unmarshal(r.Attachments, &t.Data.Attachments)
	}
	if len(r.RawEvents) > 0 {
		_ = json.Unmarshal(r.RawEvents, &t.Data.RawEvents)
	}
	if len(r.Feedback) > 0 && string(r.Feedback) != "null" {
		var fb any
		if json.Unmarshal(r.Feedback, &fb) == nil {
			t.Data.Feedback = fb
		}
	}
	return t
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
