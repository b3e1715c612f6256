package uistate

import (
	"fmt"
	"strings"
	"testing"
)

type rendered struct {
	Kind      Kind
	Content   string
	Streaming bool
}

func counterIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

// foldChunks 依次折叠并 flush, 返回最终列表。
func foldChunks(chunks ...string) []Message {
	tl := NewTimeline()
	f := NewFoldState(counterIDs())
	for _, c := range chunks {
		for _, m := range f.Apply(c) {
			tl.Upsert(m)
		}
	}
	for _, m := range f.Flush() {
		tl.Upsert(m)
	}
	return tl.Items()
}

func render(msgs []Message) []rendered {
	out := make([]rendered, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, rendered{Kind: m.Kind, Content: m.Data.Content, Streaming: m.Data.IsStreaming})
	}
	return out
}

func sameRendered(a, b []rendered) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// 单块与任意切分得到相同的最终消息。
func TestFoldChunkBoundaryInvariance(t *testing.T) {
	inputs := []string{
		"A<think>B</think>C",
		"Hello ```json\n{\"x\":1}\n```\nWorld",
		"<think>plan ``` not a fence</think>Result ```json{\"a\":[1,2]}``` done",
		"pre ```python\nprint(1)\n``` post",
		"x <thin y </think z",
		"<think>only thoughts",
		"tail fence ```json{\"open\":true}",
	}
	for _, in := range inputs {
		want := render(foldChunks(in))

		for i := 1; i < len(in); i++ {
			got := render(foldChunks(in[:i], in[i:]))
			if !sameRendered(got, want) {
				t.Fatalf("split %q at %d:\n got  %+v\n want %+v", in, i, got, want)
			}
		}

		chars := strings.Split(in, "")
		if got := render(foldChunks(chars...)); !sameRendered(got, want) {
			t.Fatalf("char-by-char %q:\n got  %+v\n want %+v", in, got, want)
		}
	}
}

func TestFoldThinkTagOrdering(t *testing.T) {
	f := NewFoldState(counterIDs())
	out := render(f.Apply("A<think>B</think>C"))
	want := []rendered{
		{KindText, "A", false},
		{KindThinking, "B", false},
		{KindText, "C", true},
	}
	if !sameRendered(out, want) {
		t.Fatalf("Apply = %+v, want %+v", out, want)
	}
	flushed := render(f.Flush())
	if len(flushed) != 1 || flushed[0] != (rendered{KindText, "C", false}) {
		t.Fatalf("Flush = %+v, want closed text C", flushed)
	}
}

func TestFoldJSONFenceNeverLeaks(t *testing.T) {
	in := "Hello ```json\n{\"x\":1}\n```\nWorld"
	for i := 1; i < len(in); i++ {
		f := NewFoldState(counterIDs())
		var all []Message
		all = append(all, f.Apply(in[:i])...)
		all = append(all, f.Apply(in[i:])...)
		all = append(all, f.Flush()...)
		for _, m := range all {
			if strings.Contains(m.Data.Content, `"x"`) {
				t.Fatalf("split %d leaked fence content: %q", i, m.Data.Content)
			}
		}
	}
	final := render(foldChunks(in))
	if len(final) != 1 || final[0].Content != "Hello\nWorld" {
		t.Fatalf("final = %+v, want single text Hello\\nWorld", final)
	}
}

// 开启代码块的那一次调用不输出打开状态的正文。
func TestFoldFenceOpenSuppressesOpenText(t *testing.T) {
	f := NewFoldState(counterIDs())
	if out := f.Apply("Intro "); len(out) != 1 || out[0].Data.Content != "Intro" {
		t.Fatalf("first chunk = %+v", out)
	}
	if out := f.Apply("```json{\"a\":1}``` more"); len(out) != 0 {
		t.Fatalf("fence chunk emitted %+v, want nothing", out)
	}
	if !strings.HasPrefix(f.MessageBuffer(), "Intro more") {
		t.Errorf("buffer = %q, want %q", f.MessageBuffer(), "Intro more")
	}
	out := f.Flush()
	if len(out) != 1 || out[0].ID != "m1" || out[0].Data.Content != "Intro more" {
		t.Fatalf("flush = %+v, want m1 \"Intro more\"", out)
	}
}

func TestFoldStreamingReusesID(t *testing.T) {
	f := NewFoldState(counterIDs())
	first := f.Apply("Hel")
	second := f.Apply("lo")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("want one open message per chunk, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("ids differ: %q vs %q", first[0].ID, second[0].ID)
	}
	if !second[0].Data.IsStreaming || second[0].Data.Content != "Hello" {
		t.Errorf("second = %+v, want open \"Hello\"", second[0])
	}
	closed := f.Flush()
	if len(closed) != 1 || closed[0].ID != first[0].ID || closed[0].Data.IsStreaming {
		t.Errorf("flush = %+v, want closed message under %q", closed, first[0].ID)
	}
}

func TestFoldHeldDelimiterReleasedOnFlush(t *testing.T) {
	f := NewFoldState(counterIDs())
	f.Apply("value <thi")
	out := f.Flush()
	if len(out) != 1 || out[0].Data.Content != "value <thi" {
		t.Fatalf("flush = %+v, want literal partial tag", out)
	}
}

func TestFoldArtifactResponseSuppressesText(t *testing.T) {
	f := NewFoldState(counterIDs())
	f.Apply("<think>why</think>report body")
	f.IsArtifactResponse = true
	out := render(f.Flush())
	if len(out) != 0 {
		t.Fatalf("flush = %+v, want nothing for artifact response", out)
	}
	if f.IsArtifactResponse || f.StreamingMessageID() != "" || f.InThink() || f.InJSONBlock() {
		t.Error("Flush did not reset state")
	}
}

func TestFoldFlushClosesOpenThinkingFirst(t *testing.T) {
	f := NewFoldState(counterIDs())
	f.Apply("answer<think>still")
	out := render(f.Flush())
	want := []rendered{{KindThinking, "still", false}}
	if !sameRendered(out, want) {
		t.Fatalf("flush = %+v, want %+v", out, want)
	}
}

func TestFoldReset(t *testing.T) {
	f := NewFoldState(counterIDs())
	f.Apply("partial ```json {")
	f.Reset()
	if f.InJSONBlock() || f.MessageBuffer() != "" {
		t.Fatal("Reset left state behind")
	}
	out := f.Apply("fresh")
	if len(out) != 1 || out[0].Data.Content != "fresh" {
		t.Fatalf("after reset = %+v", out)
	}
}
