// scanner.go — <think> 标签与 ```json 代码块的分界扫描。
//
// 同一个 scanner 支撑两种入口:
//   - 流式: FoldState 逐块喂入, 跨块的半截分隔符暂存在 pending, 下一块拼接后重扫
//   - 整串: SplitContent 一次性扫描 (response 正文、历史回放)
//
// 两种入口共用同一套规则, 保证实时流与历史恢复的结果一致。
package uistate

import "strings"

const (
	tagThinkOpen  = "<think>"
	tagThinkClose = "</think>"
	fenceJSONOpen = "```json"
	fenceMark     = "```"
	fenceLangJSON = "json"
)

type scanMode int

const (
	modeText scanMode = iota
	modeThink
	modeFence
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokThink
	tokThinkOpen
	tokThinkClose
	tokFenceOpen
	tokFenceClose
)

type token struct {
	kind tokenKind
	text string
}

// scanner 三态扫描器: 正文 / think 内 / json 代码块内。
// json 代码块只在正文中识别, think 内出现的 ``` 视为思考文本。代码块内容丢弃。
type scanner struct {
	mode    scanMode
	pending string
}

func (sc *scanner) reset() {
	sc.mode = modeText
	sc.pending = ""
}

// scan 处理 pending + s。final 为 true 时不再暂存, 剩余内容按当前模式释放。
func (sc *scanner) scan(s string, final bool, emit func(token)) {
	in := sc.pending + s
	sc.pending = ""
	for in != "" {
		switch sc.mode {
		case modeText:
			i, delim := indexFirst(in, tagThinkOpen, fenceJSONOpen)
			if i < 0 {
				in = sc.holdBack(in, final, tagThinkOpen, fenceJSONOpen)
				if in != "" {
					emit(token{kind: tokText, text: in})
				}
				return
			}
			if i > 0 {
				emit(token{kind: tokText, text: in[:i]})
			}
			in = in[i+len(delim):]
			if delim == tagThinkOpen {
				sc.mode = modeThink
				emit(token{kind: tokThinkOpen})
			} else {
				sc.mode = modeFence
				emit(token{kind: tokFenceOpen})
			}

		case modeThink:
			i := strings.Index(in, tagThinkClose)
			if i < 0 {
				in = sc.holdBack(in, final, tagThinkClose)
				if in != "" {
					emit(token{kind: tokThink, text: in})
				}
				return
			}
			if i > 0 {
				emit(token{kind: tokThink, text: in[:i]})
			}
			in = in[i+len(tagThinkClose):]
			sc.mode = modeText
			emit(token{kind: tokThinkClose})

		case modeFence:
			end, ok := sc.fenceEnd(in, final)
			if !ok {
				return
			}
			in = in[end:]
			sc.mode = modeText
			emit(token{kind: tokFenceClose})
		}
	}
}

// holdBack 把可能是分隔符前缀的尾部移入 pending, 返回其余部分。
func (sc *scanner) holdBack(in string, final bool, delims ...string) string {
	if final {
		return in
	}
	keep := partialSuffix(in, delims...)
	sc.pending = in[len(in)-keep:]
	return in[:len(in)-keep]
}

// fenceEnd 在代码块内查找收尾 ``` (其后不能紧跟 json)。
// 找到时返回收尾标记之后的偏移; 否则丢弃内容, 必要时暂存尾部。
func (sc *scanner) fenceEnd(in string, final bool) (int, bool) {
	pos := 0
	for {
		k := strings.Index(in[pos:], fenceMark)
		if k < 0 {
			if !final {
				keep := partialSuffix(in[pos:], fenceMark)
				sc.pending = in[len(in)-keep:]
			}
			return 0, false
		}
		k += pos
		rest := in[k+len(fenceMark):]
		if strings.HasPrefix(rest, fenceLangJSON) {
			pos = k + len(fenceMark)
			continue
		}
		if !final && len(rest) < len(fenceLangJSON) && strings.HasPrefix(fenceLangJSON, rest) {
			sc.pending = in[k:]
			return 0, false
		}
		return k + len(fenceMark), true
	}
}

// indexFirst 返回最早出现的分隔符及其位置。
func indexFirst(s string, delims ...string) (int, string) {
	best, which := -1, ""
	for _, d := range delims {
		if i := strings.Index(s, d); i >= 0 && (best < 0 || i < best) {
			best, which = i, d
		}
	}
	return best, which
}

// partialSuffix 返回 s 尾部与任一分隔符真前缀匹配的最长长度。
func partialSuffix(s string, delims ...string) int {
	longest := 0
	for _, d := range delims {
		for k := min(len(d)-1, len(s)); k > longest; k-- {
			if strings.HasSuffix(s, d[:k]) {
				longest = k
				break
			}
		}
	}
	return longest
}

// ========================================
// 整串入口
// ========================================

// ContentParts 整串扫描结果。
type ContentParts struct {
	// Thinking 每个 think 块的内容 (已 trim, 去掉空块), 按出现顺序。
	Thinking []string
	// Text think 块之间的正文片段, json 代码块已剔除。
	Text []string
}

// JoinedText 拼接所有正文片段。
func (p ContentParts) JoinedText() string { return strings.Join(p.Text, "") }

// JoinedThinking 用空行拼接所有 think 块。
func (p ContentParts) JoinedThinking() string { return strings.Join(p.Thinking, "\n\n") }

// SplitContent 一次性拆分完整正文。
//
// 规则与流式折叠一致: 捕获全部 think 块, 未闭合的 think 视为思考内容,
// json 代码块开启时正文片段先 trim, 代码块内容丢弃。
func SplitContent(s string) ContentParts {
	var (
		parts ContentParts
		sc    scanner
		text  strings.Builder
		think strings.Builder
	)
	flushText := func() {
		if text.Len() > 0 {
			parts.Text = append(parts.Text, text.String())
			text.Reset()
		}
	}
	flushThink := func() {
		if t := strings.TrimSpace(think.String()); t != "" {
			parts.Thinking = append(parts.Thinking, t)
		}
		think.Reset()
	}
	sc.scan(s, true, func(tok token) {
		switch tok.kind {
		case tokText:
			text.WriteString(tok.text)
		case tokThink:
			think.WriteString(tok.text)
		case tokThinkOpen:
			flushText()
		case tokThinkClose:
			flushThink()
		case tokFenceOpen:
			trimmed := strings.TrimSpace(text.String())
			text.Reset()
			text.WriteString(trimmed)
		}
	})
	flushThink()
	flushText()
	return parts
}

// StripThinkTags 去掉 think 块与 json 代码块, 只保留正文。
func StripThinkTags(s string) string {
	return SplitContent(s).JoinedText()
}
