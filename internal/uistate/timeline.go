// timeline.go — 按 id 索引、保序的消息列表。
package uistate

// ChangeOp 列表变更类型。
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeRemove ChangeOp = "remove"
	ChangeReset  ChangeOp = "reset"
)

// Change 一次列表变更, 供订阅方增量同步。
type Change struct {
	Op        ChangeOp  `json:"op"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
}

// Timeline 保序消息列表: byID 提供 O(1) 查找, order 保留插入顺序。
//
// 非并发安全, 由持有者 (Conversation) 加锁。
type Timeline struct {
	order    []string
	byID     map[string]Message
	onChange func(Change)
}

// NewTimeline 创建空列表。
func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]Message)}
}

// Observe 设置变更回调 (nil 取消)。
func (t *Timeline) Observe(fn func(Change)) { t.onChange = fn }

func (t *Timeline) emit(c Change) {
	if t.onChange != nil {
		t.onChange(c)
	}
}

// Len 消息数量。
func (t *Timeline) Len() int { return len(t.order) }

// Upsert 按 id 插入或替换; 新 id 追加到末尾。返回是否为新插入。
func (t *Timeline) Upsert(m Message) bool {
	_, exists := t.byID[m.ID]
	if !exists {
		t.order = append(t.order, m.ID)
	}
	t.byID[m.ID] = m
	snapshot := m.Clone()
	t.emit(Change{Op: ChangeUpsert, Message: &snapshot})
	return !exists
}

// Get 按 id 查找。
func (t *Timeline) Get(id string) (Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Remove 删除指定 id, 不存在时返回 false。
func (t *Timeline) Remove(id string) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.emit(Change{Op: ChangeRemove, MessageID: id})
	return true
}

// Index 返回 id 所在位置, 不存在返回 -1。
func (t *Timeline) Index(id string) int {
	if _, ok := t.byID[id]; !ok {
		return -1
	}
	for i, v := range t.order {
		if v == id {
			return i
		}
	}
	return -1
}

// At 返回第 i 条消息。
func (t *Timeline) At(i int) Message {
	return t.byID[t.order[i]]
}

// LastIndex 从尾部向前查找满足 pred 的消息位置, 未找到返回 -1。
func (t *Timeline) LastIndex(pred func(Message) bool) int {
	for i := len(t.order) - 1; i >= 0; i-- {
		if pred(t.byID[t.order[i]]) {
			return i
		}
	}
	return -1
}

// Patch 原地修改第 i 条消息并通知订阅方。
func (t *Timeline) Patch(i int, fn func(*Message)) {
	if i < 0 || i >= len(t.order) {
		return
	}
	m := t.byID[t.order[i]]
	fn(&m)
	t.byID[m.ID] = m
	snapshot := m.Clone()
	t.emit(Change{Op: ChangeUpsert, Message: &snapshot})
}

// TruncateAfter 保留 [0, i] 范围, 删除其后所有消息。i < 0 清空列表。
func (t *Timeline) TruncateAfter(i int) {
	if i >= len(t.order)-1 {
		return
	}
	if i < -1 {
		i = -1
	}
	for _, id := range t.order[i+1:] {
		delete(t.byID, id)
	}
	t.order = t.order[:i+1]
	t.emit(Change{Op: ChangeReset, Messages: t.Items()})
}

// Reset 整体替换列表 (历史恢复)。
func (t *Timeline) Reset(msgs []Message) {
	t.order = make([]string, 0, len(msgs))
	t.byID = make(map[string]Message, len(msgs))
	for _, m := range msgs {
		if _, dup := t.byID[m.ID]; !dup {
			t.order = append(t.order, m.ID)
		}
		t.byID[m.ID] = m
	}
	t.emit(Change{Op: ChangeReset, Messages: t.Items()})
}

// Items 返回按顺序排列的深拷贝。
func (t *Timeline) Items() []Message {
	out := make([]Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id].Clone())
	}
	return out
}
