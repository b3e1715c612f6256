// history.go — 从持久化的 raw_events 重建消息列表与最近产物。
package uistate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// TurnID 持久化 turn 的 id, 兼容数字与字符串两种 JSON 形式。
type TurnID string

// UnmarshalJSON 接受 "abc" 或 123。
func (id *TurnID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TurnID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = TurnID(n.String())
	return nil
}

// 持久化 sender 取值。
const (
	TurnSenderUser  = "user"
	TurnSenderAgent = "agent"
)

// StoredTurn 一条持久化的对话记录。
type StoredTurn struct {
	ID     TurnID         `json:"id"`
	Sender string         `json:"sender"`
	Data   StoredTurnData `json:"data"`
}

// StoredTurnData turn 载荷。
type StoredTurnData struct {
	Content     string            `json:"content,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	RawEvents   []json.RawMessage `json:"raw_events,omitempty"`
	Feedback    any               `json:"feedback,omitempty"`
	AgentSlug   string            `json:"agent_slug,omitempty"`
}

// IsUser 是否为用户发送的 turn。
func (t StoredTurn) IsUser() bool {
	return strings.EqualFold(t.Sender, TurnSenderUser)
}

// Reconstruction 单个 turn 或整段对话的重建结果。
type Reconstruction struct {
	Messages []Message `json:"messages"`
	Artifact *Artifact `json:"artifact,omitempty"`
}

// ReconstructConversation 依次重建所有 turn; Artifact 为最后一个带产物的 turn 的产物。
func ReconstructConversation(turns []StoredTurn, labels Labels) Reconstruction {
	var out Reconstruction
	for _, turn := range turns {
		r := ReconstructTurn(turn, labels)
		out.Messages = append(out.Messages, r.Messages...)
		if r.Artifact != nil {
			out.Artifact = r.Artifact
		}
	}
	return out
}

// ReconstructTurn 重建单个 turn。
//
// 同一份数据多次重建得到完全相同的结果: 消息 id 为 "<turn id>-<位置>"。
func ReconstructTurn(turn StoredTurn, labels Labels) Reconstruction {
	apiID := string(turn.ID)
	if turn.IsUser() {
		return Reconstruction{Messages: assignIDs(apiID, UserMessages(turn))}
	}

	events := decodeRawEvents(apiID, turn.Data.RawEvents)
	if len(events) == 0 {
		// 没有事件的旧记录只剩正文
		return Reconstruction{Messages: assignIDs(apiID, plainAgentMessages(turn))}
	}

	// 第一遍: 累积正文, 从 response 中恢复最近的产物
	var (
		text       strings.Builder
		isArtifact bool
		latest     *Artifact
	)
	for _, ev := range events {
		switch ev.Type {
		case EventContentChunk:
			text.WriteString(ev.String("content", "delta", "text"))
		case EventResponse:
			if !ev.Bool("is_artifact") {
				continue
			}
			isArtifact = true
			if a := responseArtifact(ev, labels, apiID); a != nil {
				latest = a
			}
		}
	}
	accumulated := text.String()
	if accumulated == "" {
		accumulated = turn.Data.Content
	}
	if isArtifact && latest == nil {
		if md := strings.TrimSpace(StripThinkTags(accumulated)); md != "" {
			latest = &Artifact{Type: ArtifactTypeMarkdown, Data: md, MessageID: apiID}
		}
	}

	// 第二遍: 非正文事件走常规处理, 恢复 agent/task/报告等消息
	var (
		seq      int
		toolArt  *Artifact
		actions  []Action
		leading  []Message
		trailing []Message
	)
	scratch := &Context{
		AgentSlug: turn.Data.AgentSlug,
		Timeline:  NewTimeline(),
		Labels:    labels,
		NewID: func() string {
			seq++
			return fmt.Sprintf("tmp-%d", seq)
		},
		Hooks: Hooks{OnStructuredArtifact: func(kind string, data any, id string) {
			toolArt = &Artifact{Type: kind, Data: data, MessageID: id}
		}},
	}
	for _, ev := range events {
		switch ev.Type {
		case EventContentChunk:
		case EventResponse:
			if acts := parseActions(ev.Payload["actions"]); len(acts) > 0 {
				actions = acts
			}
		case EventComplete, EventError, EventCancelled:
			trailing = append(trailing, Dispatch(ev, scratch)...)
		default:
			leading = append(leading, Dispatch(ev, scratch)...)
		}
	}

	// 正文: 全部 think 块依次成为 thinking 消息, 其余片段拼成一条正文
	parts := SplitContent(accumulated)
	msgs := append([]Message(nil), leading...)
	for _, th := range parts.Thinking {
		msgs = append(msgs, thinkingMessage("", th, false))
	}
	regular := strings.TrimSpace(parts.JoinedText())
	if regular != "" && !isArtifact {
		final := textMessage("", regular, false)
		final.Data.Feedback = turn.Data.Feedback
		final.Data.Actions = actions
		msgs = append(msgs, final)
		actions = nil
	}
	msgs = append(msgs, trailing...)
	if len(actions) > 0 {
		if i := lastTextIndex(msgs); i >= 0 {
			msgs[i].Data.Actions = append(msgs[i].Data.Actions, actions...)
		} else {
			carrier := carrierMessage("", actions, "")
			carrier.Data.Feedback = turn.Data.Feedback
			msgs = append(msgs, carrier)
		}
	}

	tmpToFinal := make(map[string]string, len(msgs))
	for i := range msgs {
		if msgs[i].ID != "" {
			tmpToFinal[msgs[i].ID] = positionID(apiID, i)
		}
	}
	msgs = assignIDs(apiID, msgs)

	if latest == nil && toolArt != nil {
		toolArt.MessageID = tmpToFinal[toolArt.MessageID]
		latest = toolArt
	}
	return Reconstruction{Messages: msgs, Artifact: latest}
}

// responseArtifact 解析 response.artifact, 规则与实时分发一致。
func responseArtifact(ev Event, labels Labels, apiID string) *Artifact {
	artifact := ev.Map("artifact")
	if artifact == nil {
		return nil
	}
	kind, data, ok := resolveResponseArtifact(artifact, labels)
	if !ok {
		return nil
	}
	return &Artifact{Type: kind, Data: data, MessageID: apiID}
}

// UserMessages 用户 turn 对应的消息 (不含 id): 正文, 以及有附件时的附件消息。
func UserMessages(turn StoredTurn) []Message {
	var msgs []Message
	if turn.Data.Content != "" || len(turn.Data.Attachments) == 0 {
		msgs = append(msgs, Message{Sender: SenderUser, Kind: KindText, Data: MessageData{Content: turn.Data.Content}})
	}
	if len(turn.Data.Attachments) > 0 {
		msgs = append(msgs, Message{Sender: SenderUser, Kind: KindAttachment, Data: MessageData{Attachments: turn.Data.Attachments}})
	}
	return msgs
}

func plainAgentMessages(turn StoredTurn) []Message {
	parts := SplitContent(turn.Data.Content)
	var msgs []Message
	for _, th := range parts.Thinking {
		msgs = append(msgs, thinkingMessage("", th, false))
	}
	if regular := strings.TrimSpace(parts.JoinedText()); regular != "" {
		final := textMessage("", regular, false)
		final.Data.Feedback = turn.Data.Feedback
		msgs = append(msgs, final)
	}
	return msgs
}

func decodeRawEvents(turnID string, raws []json.RawMessage) []Event {
	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := DecodeEvent(raw)
		if err != nil {
			logger.Warn("uistate: stored event skipped",
				logger.FieldTurnID, turnID,
				"index", i,
				logger.FieldError, err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func lastTextIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == SenderLLM && msgs[i].Kind == KindText {
			return i
		}
	}
	return -1
}

func positionID(apiID string, pos int) string {
	return fmt.Sprintf("%s-%d", apiID, pos)
}

func assignIDs(apiID string, msgs []Message) []Message {
	for i := range msgs {
		msgs[i].ID = positionID(apiID, i)
		msgs[i].APIMessageID = apiID
	}
	return msgs
}
