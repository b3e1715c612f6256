// Package bus 会话变更的进程内 pub/sub。
//
// conversation.Manager 把消息列表变更 (upsert/remove/reset) 与面板状态
// (state/artifact) 发布到 "conversation.<id>" topic; apiserver 的 SSE 与
// WebSocket 订阅者按 topic 前缀接收。
package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"` // conversation.<id>
	Type      string          `json:"type"`  // upsert / remove / reset / state / artifact
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// MsgUpsert 新增或原位替换一条消息。
	MsgUpsert = "upsert"
	// MsgRemove 移除一条消息 (产物撤回)。
	MsgRemove = "remove"
	// MsgReset 整体替换消息列表 (历史加载 / 截断)。
	MsgReset = "reset"
	// MsgState thinking / error / clarification 标记变化。
	MsgState = "state"
	// MsgArtifact 侧边面板产物更新。
	MsgArtifact = "artifact"
)

// Topic 常量。
const (
	// TopicConversationPrefix 会话 topic 前缀: conversation.{id}。
	TopicConversationPrefix = "conversation"
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// ConversationTopic 返回会话的 topic。
func ConversationTopic(conversationID string) string {
	return TopicConversationPrefix + "." + conversationID
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("conversation.c1" / "*")
	Ch     chan Message // 消息通道
}

// DefaultSubscriberBuffer 订阅通道容量。
const DefaultSubscriberBuffer = 256

// ========================================
// MessageBus topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
//   - 订阅 "conversation.c1" → 收到 conversation.c1 及其子 topic
//   - 订阅 "*" → 收到所有消息
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	dropped     int64
	onPublish   func(Message) // 可选: 每条消息的全局回调
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃; 订阅方可拉 snapshot 重新对齐
				b.dropped++
				logger.Warn("bus: subscriber channel full, dropping message",
					logger.FieldSubscriber, sub.ID,
					"topic", msg.Topic,
					logger.FieldEventType, msg.Type,
				)
			}
		}
	}
	b.mu.Unlock()

	if onPub != nil {
		onPub(msg)
	}
}

// PublishJSON 序列化 payload 后发布。序列化失败仅记录日志。
func (b *MessageBus) PublishJSON(topic, typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("bus: marshal payload failed", "topic", topic, logger.FieldEventType, typ, logger.FieldError, err)
		return
	}
	b.Publish(Message{Topic: topic, Type: typ, Payload: raw})
}

// Subscribe 订阅消息。filter 为 topic 前缀。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old.Ch)
	}
	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, DefaultSubscriberBuffer),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅并关闭通道。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Dropped 因通道满丢弃的消息数。
func (b *MessageBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
//   - filter "*" 匹配所有 topic
//   - filter "conversation.c1" 匹配 "conversation.c1", "conversation.c1.xxx"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
