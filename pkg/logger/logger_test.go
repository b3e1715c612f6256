package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// 多个 goroutine 并发读写 defaultLogger, -race 下不得报告数据竞争。
func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production", "info")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldConversationID, "c-1")
			_ = Get()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development", "debug")
	}()
	wg.Wait()
}

// TestProductionJSONOutput 生产模式输出 JSON, 时间按 UTC+8 格式化。
func TestProductionJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false, "info")
	t.Cleanup(func() { Init("production", "info") })

	Info("event skipped", FieldEventType, "mystery")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "event skipped" {
		t.Errorf("msg = %v, want %q", rec["msg"], "event skipped")
	}
	if rec[FieldEventType] != "mystery" {
		t.Errorf("%s = %v, want %q", FieldEventType, rec[FieldEventType], "mystery")
	}
	ts, _ := rec["time"].(string)
	if len(ts) != len("2006-01-02 15:04:05") {
		t.Errorf("time = %q, want formatted local time", ts)
	}
}

// TestLevelFiltering debug 日志在 INFO 级别下被过滤。
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false, "warn")
	t.Cleanup(func() { Init("production", "info") })

	Info("hidden")
	Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message leaked at WARN level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARNING ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestFromContext 注入的日志器优先, 否则回落到默认日志器。
func TestFromContext(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("FromContext did not return injected logger")
	}
	if FromContext(context.Background()) != Get() {
		t.Error("FromContext without logger should return default")
	}
}
