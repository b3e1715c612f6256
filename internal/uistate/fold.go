// fold.go — content_chunk 流式折叠状态机。
package uistate

import (
	"strings"

	"github.com/google/uuid"
)

// IDFunc 生成消息 id。
type IDFunc func() string

// NewMessageID 默认 id 生成器 (UUID v4)。
func NewMessageID() string { return uuid.NewString() }

// FoldState 把 content_chunk 增量折叠成 text / thinking 消息。
//
// 状态显式持有, 不依赖闭包; 每个对话一份, 新 turn 开始前必须 Reset。
// 打开状态的消息 (isStreaming=true) 在同一 id 下被反复 upsert,
// 关闭时以同一 id 输出最终内容。
type FoldState struct {
	sc scanner

	messageBuffer string
	thinkBuffer   string

	streamingID string
	thinkingID  string

	// IsArtifactResponse 为 true 时 Flush 不输出正文 (正文已作为产物展示)。
	IsArtifactResponse bool

	lastStep *int

	newID IDFunc
}

// NewFoldState 创建折叠状态; newID 为 nil 时使用 UUID。
func NewFoldState(newID IDFunc) *FoldState {
	if newID == nil {
		newID = NewMessageID
	}
	return &FoldState{newID: newID}
}

// Reset 清空全部状态。
func (f *FoldState) Reset() {
	f.sc.reset()
	f.messageBuffer = ""
	f.thinkBuffer = ""
	f.streamingID = ""
	f.thinkingID = ""
	f.IsArtifactResponse = false
	f.lastStep = nil
}

// RecordStep 记录最近一个 content_chunk 的 step。
func (f *FoldState) RecordStep(step int) { f.lastStep = &step }

// LastStep 最近记录的 step; 未记录时 ok 为 false。
func (f *FoldState) LastStep() (step int, ok bool) {
	if f.lastStep == nil {
		return 0, false
	}
	return *f.lastStep, true
}

// StreamingMessageID 当前打开的正文消息 id。
func (f *FoldState) StreamingMessageID() string { return f.streamingID }

// MessageBuffer 当前正文缓冲。
func (f *FoldState) MessageBuffer() string { return f.messageBuffer }

// InThink 是否处于 think 块内。
func (f *FoldState) InThink() bool { return f.sc.mode == modeThink }

// InJSONBlock 是否处于 json 代码块内。
func (f *FoldState) InJSONBlock() bool { return f.sc.mode == modeFence }

// ClearStreaming 放弃当前正文消息 (response 接管时调用)。
func (f *FoldState) ClearStreaming() {
	f.streamingID = ""
	f.messageBuffer = ""
}

// foldPass 一次 Apply/Flush 调用内的局部记录。
type foldPass struct {
	out        []Message
	textDirty  bool
	thinkDirty bool
	fenced     bool
}

func (f *FoldState) consume(p *foldPass) func(token) {
	return func(tok token) {
		switch tok.kind {
		case tokText:
			f.messageBuffer += tok.text
			p.textDirty = true
		case tokThink:
			f.thinkBuffer += tok.text
			p.thinkDirty = true
		case tokThinkOpen:
			if m, ok := f.closeText(); ok {
				p.out = append(p.out, m)
			}
			p.textDirty = false
			f.thinkBuffer = ""
			f.thinkingID = ""
		case tokThinkClose:
			if m, ok := f.closeThinking(); ok {
				p.out = append(p.out, m)
			}
			p.thinkDirty = false
		case tokFenceOpen:
			f.messageBuffer = strings.TrimSpace(f.messageBuffer)
			p.fenced = true
		case tokFenceClose:
		}
	}
}

// Apply 折叠一个 content_chunk, 返回需要 upsert 的消息 (按顺序)。
//
// 开启 json 代码块的这一次调用不输出打开状态的正文;
// 代码块在同一块内闭合时, 闭合之后的内容继续处理。
func (f *FoldState) Apply(content string) []Message {
	var p foldPass
	f.sc.scan(content, false, f.consume(&p))

	switch f.sc.mode {
	case modeText:
		if p.textDirty && !p.fenced {
			if m, ok := f.openText(); ok {
				p.out = append(p.out, m)
			}
		}
	case modeThink:
		if p.thinkDirty {
			if m, ok := f.openThinking(); ok {
				p.out = append(p.out, m)
			}
		}
	}
	return p.out
}

// Flush 关闭所有打开的片段并重置状态。
//
// 先输出思考, 再输出正文; IsArtifactResponse 时正文被丢弃。
// 暂存的半截分隔符按当前模式作为普通内容释放, 代码块内的则丢弃。
func (f *FoldState) Flush() []Message {
	var p foldPass
	f.sc.scan("", true, f.consume(&p))

	if m, ok := f.closeThinking(); ok {
		p.out = append(p.out, m)
	}
	if !f.IsArtifactResponse {
		if m, ok := f.closeText(); ok {
			p.out = append(p.out, m)
		}
	}
	f.Reset()
	return p.out
}

func (f *FoldState) openText() (Message, bool) {
	content := strings.TrimSpace(f.messageBuffer)
	if content == "" {
		return Message{}, false
	}
	if f.streamingID == "" {
		f.streamingID = f.newID()
	}
	return textMessage(f.streamingID, content, true), true
}

// closeText 以当前 streamingID 输出最终正文并退役该 id。
func (f *FoldState) closeText() (Message, bool) {
	content := strings.TrimSpace(f.messageBuffer)
	id := f.streamingID
	f.messageBuffer = ""
	f.streamingID = ""
	if content == "" {
		return Message{}, false
	}
	if id == "" {
		id = f.newID()
	}
	return textMessage(id, content, false), true
}

func (f *FoldState) openThinking() (Message, bool) {
	content := strings.TrimSpace(f.thinkBuffer)
	if content == "" {
		return Message{}, false
	}
	if f.thinkingID == "" {
		f.thinkingID = f.newID()
	}
	return thinkingMessage(f.thinkingID, content, true), true
}

func (f *FoldState) closeThinking() (Message, bool) {
	content := strings.TrimSpace(f.thinkBuffer)
	id := f.thinkingID
	f.thinkBuffer = ""
	f.thinkingID = ""
	if content == "" {
		return Message{}, false
	}
	if id == "" {
		id = f.newID()
	}
	return thinkingMessage(id, content, false), true
}

func textMessage(id, content string, streaming bool) Message {
	return Message{ID: id, Sender: SenderLLM, Kind: KindText, Data: MessageData{Content: content, IsStreaming: streaming}}
}

func thinkingMessage(id, content string, streaming bool) Message {
	return Message{ID: id, Sender: SenderLLM, Kind: KindThinking, Data: MessageData{Content: content, IsStreaming: streaming}}
}
