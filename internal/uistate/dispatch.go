// dispatch.go — 事件分发: 每种事件类型对应一个处理函数。
package uistate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/util"
)

// 特殊工具名。
const (
	ToolUpdatePlanNote       = "update_plan_note"
	ToolRequestClarification = "request_clarification"
)

// 默认文案。
const (
	DefaultAgentName       = "Agent"
	DefaultErrorMessage    = "Something went wrong. Please try again."
	DefaultCancelledReason = "Request was cancelled."
	DefaultArtifactType    = "review-report"

	artifactTypeReportJSON = "report_json"
	statusNeedsClarify     = "needs_clarification"
)

// 嵌套工具动作状态。
const (
	ToolStatusCompleted  = "completed"
	ToolStatusInProgress = "in_progress"
)

// Labels 展示名查表 (agent 名称、工具标签、报告类型)。
type Labels interface {
	AgentName(slug string) string
	ToolLabel(tool string) string
	// ReportArtifactType 报告类工具对应的产物类型; 非报告工具返回 false。
	ReportArtifactType(tool string) (string, bool)
	// ArtifactDisplayType artifact 事件 report_type 的展示类型, 未知时为 review-report。
	ArtifactDisplayType(reportType string) string
	// ResponseArtifactType response 结构化产物类型映射, 未知时原样返回。
	ResponseArtifactType(raw string) string
}

type rawLabels struct{}

func (rawLabels) AgentName(slug string) string             { return slug }
func (rawLabels) ToolLabel(tool string) string             { return tool }
func (rawLabels) ReportArtifactType(string) (string, bool) { return "", false }
func (rawLabels) ArtifactDisplayType(string) string        { return DefaultArtifactType }
func (rawLabels) ResponseArtifactType(raw string) string   { return raw }

// Hooks 分发过程中的 UI 回调, 全部可为 nil。
type Hooks struct {
	OnArtifact           func(markdown string)
	OnStructuredArtifact func(artifactType string, data any, messageID string)
	OnThinking           func(active bool)
	OnError              func(message string)
	OnClarification      func(needed bool)
}

func (h Hooks) artifact(md string) {
	if h.OnArtifact != nil {
		h.OnArtifact(md)
	}
}

func (h Hooks) structured(kind string, data any, id string) {
	if h.OnStructuredArtifact != nil {
		h.OnStructuredArtifact(kind, data, id)
	}
}

func (h Hooks) thinking(active bool) {
	if h.OnThinking != nil {
		h.OnThinking(active)
	}
}

func (h Hooks) fail(msg string) {
	if h.OnError != nil {
		h.OnError(msg)
	}
}

func (h Hooks) clarification(needed bool) {
	if h.OnClarification != nil {
		h.OnClarification(needed)
	}
}

// Context 分发上下文: 当前 agent、消息列表、折叠状态、查表与回调。
type Context struct {
	AgentSlug string
	Timeline  *Timeline
	Fold      *FoldState
	Labels    Labels
	Hooks     Hooks
	NewID     IDFunc
}

func (c *Context) prepare() {
	if c.Timeline == nil {
		c.Timeline = NewTimeline()
	}
	if c.NewID == nil {
		c.NewID = NewMessageID
	}
	if c.Fold == nil {
		c.Fold = NewFoldState(c.NewID)
	}
	if c.Labels == nil {
		c.Labels = rawLabels{}
	}
}

// emit upsert 到列表并记录输出。
func (c *Context) emit(out *[]Message, msgs ...Message) {
	for _, m := range msgs {
		c.Timeline.Upsert(m)
		*out = append(*out, m)
	}
}

// Dispatch 处理一条事件, 把产生的消息写入 c.Timeline 并按顺序返回。
// 未知类型直接忽略。
func Dispatch(ev Event, c *Context) []Message {
	c.prepare()
	var out []Message
	switch ev.Type {
	case EventStart:
		handleStart(ev, c, &out)
	case EventReason:
		handleReason(ev, c, &out)
	case EventAction:
		handleAction(ev, c, &out)
	case EventToolCall:
		handleToolCall(ev, c, &out)
	case EventToolResult:
		handleToolResult(ev, c, &out)
	case EventArtifact:
		handleArtifact(ev, c, &out)
	case EventContentChunk:
		c.emit(&out, c.Fold.Apply(ev.String("content", "delta", "text"))...)
		if step, ok := ev.Int("step"); ok {
			c.Fold.RecordStep(step)
		}
	case EventResponse:
		handleResponse(ev, c, &out)
	case EventComplete:
		handleComplete(ev, c, &out)
	case EventError:
		handleError(ev, c, &out)
	case EventCancelled:
		handleCancelled(ev, c, &out)
	default:
		logger.Debug("uistate: unknown event ignored", logger.FieldEventType, ev.Name)
	}
	return out
}

func handleStart(ev Event, c *Context, out *[]Message) {
	c.Hooks.thinking(true)
	c.emit(out, Message{ID: c.NewID(), Sender: SenderLLM, Kind: KindAgentHeader, Data: MessageData{AgentName: c.agentName(ev)}})
}

// handleReason 推理过程作为 "<Agent> is thinking" 任务卡片。
func handleReason(ev Event, c *Context, out *[]Message) {
	text := strings.TrimSpace(ev.String("reasoning"))
	if text == "" {
		return
	}
	c.emit(out, Message{
		ID:     c.NewID(),
		Sender: SenderLLM,
		Kind:   KindTask,
		Data: MessageData{
			Title:       c.agentName(ev) + " is thinking",
			Description: text,
		},
	})
}

func handleAction(ev Event, c *Context, out *[]Message) {
	tool := ev.String("tool_name", "tool", "action")
	if tool == "" {
		return
	}
	c.emit(out, c.taskMessage(ev, tool, ToolStatusCompleted, "tool_args", "args"))
}

// handleToolCall 新格式 (tool/args/step), 规则与 action 相同。
func handleToolCall(ev Event, c *Context, out *[]Message) {
	tool := ev.String("tool", "tool_name")
	if tool == "" {
		return
	}
	c.emit(out, c.taskMessage(ev, tool, ToolStatusInProgress, "args", "tool_args"))
}

// taskMessage 工具任务卡片。argKeys 为参数字段的查找顺序。
func (c *Context) taskMessage(ev Event, tool, status string, argKeys ...string) Message {
	args := argsOf(ev, argKeys...)
	label := c.toolLabel(tool)
	msg := Message{
		ID:     c.NewID(),
		Sender: SenderLLM,
		Kind:   KindTask,
		Data: MessageData{
			Title: label,
			Tool:  &ToolAction{Name: tool, Label: label, Args: args, Status: status, Step: ev.Payload["step"]},
		},
	}
	switch tool {
	case ToolUpdatePlanNote:
		msg.Data.Description = util.FirstNonEmpty(stringArg(args, "note"), ev.String("note"))
	case ToolRequestClarification:
		msg.Data.Reason = util.FirstNonEmpty(stringArg(args, "reason", "question"), ev.String("reason"))
		msg.Data.Description = msg.Data.Reason
	default:
		msg.Data.Description = describeArgs(ev, argKeys...)
	}
	return msg
}

func handleToolResult(ev Event, c *Context, out *[]Message) {
	tool := ev.String("tool", "tool_name")
	kind, ok := c.Labels.ReportArtifactType(tool)
	if !ok {
		return
	}
	data := decodeJSONValue(ev.Payload["result"])
	id := c.NewID()
	c.emit(out, reportMessage(id, kind, data, c.toolLabel(tool)))
	c.Hooks.structured(kind, data, id)
}

func handleArtifact(ev Event, c *Context, out *[]Message) {
	if ev.String("artifact_type") != artifactTypeReportJSON {
		return
	}
	data := decodeJSONValue(ev.Payload["content"])
	reportType := ""
	if m, ok := data.(map[string]any); ok {
		reportType = extractFirstString(m, "report_type")
	}
	kind := util.FirstNonEmpty(c.Labels.ArtifactDisplayType(reportType), DefaultArtifactType)
	id := c.NewID()
	c.emit(out, reportMessage(id, kind, data, ""))
	c.Hooks.structured(kind, data, id)
}

func handleResponse(ev Event, c *Context, out *[]Message) {
	apiID := ev.MessageID()
	actions := parseActions(ev.Payload["actions"])

	if artifact := ev.Map("artifact"); ev.Bool("is_artifact") && artifact != nil {
		if id := c.Fold.StreamingMessageID(); id != "" {
			c.Timeline.Remove(id)
		}
		c.Fold.ClearStreaming()
		c.Fold.IsArtifactResponse = true

		if apiID == "" {
			apiID = c.NewID()
		}
		kind, data, ok := resolveResponseArtifact(artifact, c.Labels)
		switch {
		case ok && isMarkdownArtifact(artifact):
			md, _ := data.(string)
			c.Hooks.artifact(md)
			c.Hooks.structured(ArtifactTypeMarkdown, md, apiID)
			if len(actions) > 0 {
				c.emit(out, carrierMessage(c.NewID(), actions, apiID))
			}
		case ok:
			report := reportMessage(c.NewID(), kind, data, "")
			report.APIMessageID = apiID
			c.emit(out, carrierMessage(c.NewID(), actions, apiID), report)
			c.Hooks.structured(kind, data, apiID)
		case len(actions) > 0:
			c.emit(out, carrierMessage(c.NewID(), actions, apiID))
		}
		return
	}

	parts := SplitContent(ev.String("content", "message"))
	content := strings.TrimSpace(parts.JoinedText())
	thinking := parts.JoinedThinking()

	if id := c.Fold.StreamingMessageID(); id != "" {
		if content == "" {
			content = strings.TrimSpace(c.Fold.MessageBuffer())
		}
		msg := textMessage(id, content, false)
		msg.Data.Thinking = thinking
		msg.Data.Actions = actions
		msg.APIMessageID = apiID
		c.Fold.ClearStreaming()
		c.emit(out, msg)
		return
	}
	if content != "" || thinking != "" {
		msg := textMessage(c.NewID(), content, false)
		msg.Data.Thinking = thinking
		msg.Data.Actions = actions
		msg.APIMessageID = apiID
		c.emit(out, msg)
		return
	}
	if len(actions) > 0 {
		if msg, ok := mergeActions(c.Timeline, actions); ok {
			*out = append(*out, msg)
			return
		}
		c.emit(out, carrierMessage(c.NewID(), actions, apiID))
	}
}

func handleComplete(ev Event, c *Context, out *[]Message) {
	c.emit(out, c.Fold.Flush()...)
	report := ev.Map("report")
	if extractFirstString(report, "status") == statusNeedsClarify {
		c.Hooks.clarification(true)
	}
	c.Hooks.thinking(false)
	if summary := strings.TrimSpace(extractFirstString(report, "summary")); summary != "" {
		msg := textMessage(c.NewID(), summary, false)
		msg.APIMessageID = ev.MessageID()
		c.emit(out, msg)
	}
}

func handleError(ev Event, c *Context, out *[]Message) {
	c.emit(out, c.Fold.Flush()...)
	text := util.FirstNonEmpty(
		extractNestedString(ev.Payload, "data", "message"),
		ev.String("message", "error", "detail"),
		DefaultErrorMessage,
	)
	c.Hooks.fail(text)
	c.Hooks.thinking(false)
	c.emit(out, Message{ID: c.NewID(), Sender: SenderLLM, Kind: KindError, Data: MessageData{Content: text}})
}

func handleCancelled(ev Event, c *Context, out *[]Message) {
	c.emit(out, c.Fold.Flush()...)
	reason := util.FirstNonEmpty(ev.String("reason", "message"), DefaultCancelledReason)
	c.Hooks.thinking(false)
	c.emit(out, Message{ID: c.NewID(), Sender: SenderLLM, Kind: KindCancelled, Data: MessageData{Reason: reason}})
}

// ========================================
// 工具函数
// ========================================

// agentName 事件或上下文中的 agent 展示名, 都没有时为 DefaultAgentName。
func (c *Context) agentName(ev Event) string {
	slug := util.FirstNonEmpty(ev.String("agent_slug", "agent"), c.AgentSlug)
	if slug == "" {
		return DefaultAgentName
	}
	return util.FirstNonEmpty(c.Labels.AgentName(slug), slug)
}

func (c *Context) toolLabel(tool string) string {
	if tool == "" {
		return ""
	}
	return util.FirstNonEmpty(c.Labels.ToolLabel(tool), tool)
}

func reportMessage(id, kind string, data any, title string) Message {
	return Message{
		ID:     id,
		Sender: SenderLLM,
		Kind:   KindReportArtifact,
		Data:   MessageData{ArtifactType: kind, Artifact: data, Title: title},
	}
}

// carrierMessage 空正文消息, 仅用于承载 actions。
func carrierMessage(id string, actions []Action, apiID string) Message {
	msg := textMessage(id, "", false)
	msg.Data.Actions = actions
	msg.APIMessageID = apiID
	return msg
}

// mergeActions 用 actions 替换最近一条 llm 正文消息的动作列表, 其余字段不变。
func mergeActions(t *Timeline, actions []Action) (Message, bool) {
	i := t.LastIndex(func(m Message) bool { return m.Sender == SenderLLM && m.Kind == KindText })
	if i < 0 {
		return Message{}, false
	}
	t.Patch(i, func(m *Message) {
		m.Data.Actions = actions
	})
	return t.At(i), true
}

func parseActions(v any) []Action {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Action, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case map[string]any:
			out = append(out, x)
		case string:
			if strings.TrimSpace(x) != "" {
				out = append(out, Action{"label": x})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func argsOf(ev Event, keys ...string) map[string]any {
	for _, key := range keys {
		if m, ok := ev.Payload[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func stringArg(args map[string]any, keys ...string) string {
	return extractFirstString(args, keys...)
}

// describeArgs 把参数对象渲染成 markdown 键值行, 保留原始 JSON 的字段顺序。
func describeArgs(ev Event, keys ...string) string {
	raw := ev.MarshalRaw()
	for _, key := range keys {
		r := gjson.GetBytes(raw, key)
		if !r.Exists() {
			continue
		}
		if !r.IsObject() {
			return strings.TrimSpace(r.String())
		}
		var lines []string
		r.ForEach(func(k, v gjson.Result) bool {
			val := v.String()
			if v.IsObject() || v.IsArray() {
				val = v.Raw
			}
			if strings.TrimSpace(val) != "" {
				lines = append(lines, fmt.Sprintf("**%s:** %s", k.String(), val))
			}
			return true
		})
		return strings.Join(lines, "\n")
	}
	return ""
}

// resolveResponseArtifact response.artifact 的面板内容。
//
// markdown 格式需要 data.markdown; 结构化产物需要 artifact_type 与 data 同时存在。
// 两者都不满足时 ok 为 false。
func resolveResponseArtifact(artifact map[string]any, labels Labels) (kind string, data any, ok bool) {
	if isMarkdownArtifact(artifact) {
		return ArtifactTypeMarkdown, extractNestedString(artifact, "data", "markdown"), true
	}
	raw := extractFirstString(artifact, "artifact_type")
	if raw == "" || artifact["data"] == nil {
		return "", nil, false
	}
	if labels == nil {
		labels = rawLabels{}
	}
	return labels.ResponseArtifactType(raw), decodeJSONValue(artifact["data"]), true
}

func isMarkdownArtifact(artifact map[string]any) bool {
	return extractFirstString(artifact, "format") == ArtifactTypeMarkdown &&
		strings.TrimSpace(extractNestedString(artifact, "data", "markdown")) != ""
}

// decodeJSONValue 字符串形式的 JSON 对象/数组解码为结构, 其余原样返回。
func decodeJSONValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return v
	}
	return decoded
}
