package uistate

// Sender 消息发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderLLM  Sender = "llm"
)

// Kind 消息类型, 决定前端渲染组件。
type Kind string

const (
	KindText             Kind = "text"
	KindThinking         Kind = "thinking"
	KindTask             Kind = "task"
	KindAgentHeader      Kind = "agent_header"
	KindError            Kind = "error"
	KindAttachment       Kind = "attachment"
	KindReportArtifact   Kind = "report_artifact"
	KindSuggestedActions Kind = "suggested_actions"
	KindCancelled        Kind = "cancelled"
)

// Message 对话列表中的一条消息。
type Message struct {
	ID           string      `json:"id"`
	Sender       Sender      `json:"sender"`
	Kind         Kind        `json:"type"`
	Data         MessageData `json:"data"`
	APIMessageID string      `json:"apiMessageId,omitempty"`
}

// MessageData 各 Kind 共用的载荷, 字段按需填充。
type MessageData struct {
	Content      string       `json:"content,omitempty"`
	Thinking     string       `json:"thinking,omitempty"`
	IsStreaming  bool         `json:"isStreaming,omitempty"`
	Actions      []Action     `json:"actions,omitempty"`
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	Tool         *ToolAction  `json:"toolAction,omitempty"`
	AgentName    string       `json:"agentName,omitempty"`
	ArtifactType string       `json:"artifactType,omitempty"`
	Artifact     any          `json:"artifactData,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Feedback     any          `json:"feedback,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Action 后端返回的建议操作, 结构由上游定义, 原样透传。
type Action = map[string]any

// ToolAction 工具调用描述。
type ToolAction struct {
	Name   string         `json:"name"`
	Label  string         `json:"label,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status,omitempty"`
	Step   any            `json:"step,omitempty"`
}

// Attachment 用户上传的附件引用。
type Attachment struct {
	Name string `json:"name,omitempty"`
	Kind string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Artifact 侧边栏展示的产物。Data 为 markdown 字符串或结构化对象。
type Artifact struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	MessageID string `json:"messageId,omitempty"`
}

// ArtifactTypeMarkdown markdown 产物类型。
const ArtifactTypeMarkdown = "markdown"

// Clone 深拷贝切片/指针字段, 避免快照被后续修改污染。
func (m Message) Clone() Message {
	out := m
	if len(m.Data.Actions) > 0 {
		out.Data.Actions = make([]Action, len(m.Data.Actions))
		for i, a := range m.Data.Actions {
			out.Data.Actions[i] = cloneMap(a)
		}
	}
	if m.Data.Tool != nil {
		tool := *m.Data.Tool
		tool.Args = cloneMap(m.Data.Tool.Args)
		out.Data.Tool = &tool
	}
	if len(m.Data.Attachments) > 0 {
		out.Data.Attachments = append([]Attachment(nil), m.Data.Attachments...)
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}
