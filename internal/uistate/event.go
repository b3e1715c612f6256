// event.go — SSE 事件类型枚举与归一化。
package uistate

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

// EventType agent runtime 推送的事件类型。
type EventType string

const (
	EventStart        EventType = "start"
	EventReason       EventType = "reason"
	EventAction       EventType = "action"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventArtifact     EventType = "artifact"
	EventContentChunk EventType = "content_chunk"
	EventResponse     EventType = "response"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventCancelled    EventType = "cancelled"

	// EventUnknown 无法识别的类型, 分发时忽略。
	EventUnknown EventType = ""
)

// KnownEventTypes 全部可分发的事件类型。
var KnownEventTypes = []EventType{
	EventStart, EventReason, EventAction, EventToolCall, EventToolResult, EventArtifact,
	EventContentChunk, EventResponse, EventComplete, EventError, EventCancelled,
}

// ParseEventType 将线上名称映射为枚举; 未知名称返回 EventUnknown。
func ParseEventType(name string) EventType {
	switch t := EventType(strings.TrimSpace(name)); t {
	case EventStart, EventReason, EventAction, EventToolCall, EventToolResult, EventArtifact,
		EventContentChunk, EventResponse, EventComplete, EventError, EventCancelled:
		return t
	default:
		return EventUnknown
	}
}

// Event 归一化后的事件。
//
// 上游有两种 discriminator 字段 (event / type), 解码时统一到 Type,
// 下游只看 Type, 不再关心来源字段。
type Event struct {
	Type    EventType       `json:"type"`
	Name    string          `json:"name"` // 原始名称, 未知类型时用于日志
	Payload map[string]any  `json:"payload"`
	Raw     json.RawMessage `json:"-"`
}

// DecodeEvent 解析一条 SSE data 负载。
//
// 优先读取 "event" 字段, 缺失时回落到 "type"。非 JSON 对象返回 ErrMalformedEvent。
func DecodeEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, apperrors.Wrap(apperrors.ErrMalformedEvent, "uistate.DecodeEvent", "invalid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Event{}, apperrors.Wrap(apperrors.ErrMalformedEvent, "uistate.DecodeEvent", "payload is not an object")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Event{}, apperrors.Wrap(apperrors.ErrMalformedEvent, "uistate.DecodeEvent", err.Error())
	}
	name := root.Get("event").String()
	if strings.TrimSpace(name) == "" {
		name = root.Get("type").String()
	}
	return Event{
		Type:    ParseEventType(name),
		Name:    name,
		Payload: payload,
		Raw:     append(json.RawMessage(nil), raw...),
	}, nil
}

// NewEvent 从已解析的 map 构造事件 (测试与存储回放使用)。
func NewEvent(payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	name := extractFirstString(payload, "event")
	if strings.TrimSpace(name) == "" {
		name = extractFirstString(payload, "type")
	}
	raw, _ := json.Marshal(payload)
	return Event{Type: ParseEventType(name), Name: name, Payload: payload, Raw: raw}
}

// MarshalRaw 返回事件的原始 JSON, 用于持久化 raw_events。
func (e Event) MarshalRaw() json.RawMessage {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	raw, _ := json.Marshal(e.Payload)
	return raw
}

// ========================================
// 负载读取工具
// ========================================

// String 读取第一个存在的字符串字段。
func (e Event) String(keys ...string) string {
	return extractFirstString(e.Payload, keys...)
}

// Map 读取嵌套对象。
func (e Event) Map(key string) map[string]any {
	m, _ := e.Payload[key].(map[string]any)
	return m
}

// Bool 读取布尔字段; 非布尔值按 false 处理。
func (e Event) Bool(key string) bool {
	b, _ := e.Payload[key].(bool)
	return b
}

// Int 读取整数字段 (JSON number 或数字字符串)。
func (e Event) Int(key string) (int, bool) {
	switch x := e.Payload[key].(type) {
	case float64:
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

// MessageID 读取后端消息 id (字符串或数字)。
func (e Event) MessageID() string {
	return stringify(e.Payload["message_id"])
}

func extractFirstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if text, ok := value.(string); ok {
			return text
		}
	}
	return ""
}

func extractNestedString(payload map[string]any, path ...string) string {
	current := any(payload)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	text, _ := current.(string)
	return text
}

// stringify 将 id 类字段 (字符串/数字) 转为字符串。
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
