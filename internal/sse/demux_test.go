package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
)

const sampleStream = "data: {\"type\":\"start\"}\n\n" +
	"event: message\ndata: {\"event\":\"content_chunk\",\"content\":\"Hi\"}\n\n" +
	": keepalive comment\n\n" +
	"data: {\"type\":\"complete\"}\n\n"

func types(events []uistate.Event) []uistate.EventType {
	out := make([]uistate.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func sameTypes(a, b []uistate.EventType) bool {
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

var wantSample = []uistate.EventType{uistate.EventStart, uistate.EventContentChunk, uistate.EventComplete}

func TestDemuxerWholeStream(t *testing.T) {
	d := NewDemuxer()
	got := append(d.Feed([]byte(sampleStream)), d.Flush()...)
	if !sameTypes(types(got), wantSample) {
		t.Fatalf("types = %v, want %v", types(got), wantSample)
	}
	if got[1].String("content") != "Hi" {
		t.Errorf("content = %q, want %q", got[1].String("content"), "Hi")
	}
}

// 任意位置切分都得到相同的事件序列。
func TestDemuxerSplitAnywhere(t *testing.T) {
	for i := 1; i < len(sampleStream); i++ {
		d := NewDemuxer()
		var got []uistate.Event
		got = append(got, d.Feed([]byte(sampleStream[:i]))...)
		got = append(got, d.Feed([]byte(sampleStream[i:]))...)
		got = append(got, d.Flush()...)
		if !sameTypes(types(got), wantSample) {
			t.Fatalf("split at %d: types = %v, want %v", i, types(got), wantSample)
		}
	}
}

func TestDemuxerMalformedSkipped(t *testing.T) {
	d := NewDemuxer()
	got := d.Feed([]byte("data: {not json\n\ndata: {\"type\":\"reason\",\"reasoning\":\"r\"}\n\n"))
	if len(got) != 1 || got[0].Type != uistate.EventReason {
		t.Fatalf("got %v, want single reason event", types(got))
	}
	if d.Malformed() != 1 {
		t.Errorf("Malformed = %d, want 1", d.Malformed())
	}
}

func TestDemuxerCRLFAndMultilineData(t *testing.T) {
	d := NewDemuxer()
	stream := "data: {\"type\":\"content_chunk\",\r\ndata: \"content\":\"x\"}\r\n\r\ndata: [DONE]\r\n\r\n"
	got := append(d.Feed([]byte(stream[:30])), d.Feed([]byte(stream[30:]))...)
	if len(got) != 1 || got[0].Type != uistate.EventContentChunk {
		t.Fatalf("got %v, want one content_chunk", types(got))
	}
	if d.Malformed() != 0 {
		t.Errorf("[DONE] counted as malformed")
	}
}

func TestDemuxerCRLFSplitAtEveryOffset(t *testing.T) {
	stream := "data: {\"type\":\"start\"}\r\n\r\ndata: {\"type\":\"complete\"}\r\n\r\n"
	want := []uistate.EventType{uistate.EventStart, uistate.EventComplete}
	for cut := 1; cut < len(stream); cut++ {
		d := NewDemuxer()
		got := append(d.Feed([]byte(stream[:cut])), d.Feed([]byte(stream[cut:]))...)
		if !sameTypes(types(got), want) {
			t.Fatalf("cut %d: got %v, want %v", cut, types(got), want)
		}
		if d.pendingCR || len(d.buf) != 0 {
			t.Fatalf("cut %d: leftover state pendingCR=%v buf=%q", cut, d.pendingCR, d.buf)
		}
	}
}

func TestDemuxerLargeRecordInChunks(t *testing.T) {
	content := strings.Repeat("x", 1<<20)
	stream := "data: {\"type\":\"content_chunk\",\"content\":\"" + content + "\"}\r\n\r\n"
	d := NewDemuxer()
	var got []uistate.Event
	for off := 0; off < len(stream); off += readChunkBytes {
		end := off + readChunkBytes
		if end > len(stream) {
			end = len(stream)
		}
		got = append(got, d.Feed([]byte(stream[off:end]))...)
		if len(got) == 0 && d.scan != len(d.buf) {
			t.Fatalf("offset %d: scan=%d, want already-scanned prefix %d", off, d.scan, len(d.buf))
		}
	}
	if len(got) != 1 || got[0].Type != uistate.EventContentChunk {
		t.Fatalf("got %v, want one content_chunk", types(got))
	}
	if c := got[0].String("content"); len(c) != len(content) {
		t.Errorf("content length = %d, want %d", len(c), len(content))
	}
}

func TestDemuxerFlushTrailingRecord(t *testing.T) {
	d := NewDemuxer()
	if got := d.Feed([]byte(`data: {"type":"cancelled"}`)); len(got) != 0 {
		t.Fatalf("partial record emitted early: %v", types(got))
	}
	got := d.Flush()
	if len(got) != 1 || got[0].Type != uistate.EventCancelled {
		t.Fatalf("Flush = %v, want cancelled", types(got))
	}
}

func TestDemuxerOversizedRecordDropped(t *testing.T) {
	d := NewDemuxer()
	d.maxRecord = 16
	got := d.Feed([]byte(`data: {"type":"content_chunk","content":"way too long"}`))
	got = append(got, d.Feed([]byte("\n\ndata: {\"type\":\"start\"}\n\n"))...)
	if len(got) != 1 || got[0].Type != uistate.EventStart {
		t.Fatalf("got %v, want only the following start event", types(got))
	}
}

// oneByteReader 每次只返回一个字节, 模拟极端分块。
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestDecodeReader(t *testing.T) {
	var got []uistate.Event
	err := Decode(context.Background(), oneByteReader{strings.NewReader(sampleStream)}, func(ev uistate.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !sameTypes(types(got), wantSample) {
		t.Fatalf("types = %v, want %v", types(got), wantSample)
	}
}

func TestDecodeStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Decode(context.Background(), strings.NewReader(sampleStream), func(uistate.Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("err = %v calls = %d, want stop after 1", err, calls)
	}
}

func TestDecodeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Decode(ctx, strings.NewReader(sampleStream), func(uistate.Event) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
