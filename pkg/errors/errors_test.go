// errors_test.go — 验证 AppError / Wrap / CodeOf 的行为契约。
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "Manager.Regenerate", "message not found")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrAborted) {
		t.Errorf("errors.Is(wrapped, ErrAborted) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Manager.Regenerate" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Manager.Regenerate")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	s := Wrap(io.ErrUnexpectedEOF, "Client.stream", "read body").Error()
	for _, want := range []string{"Client.stream", "read body", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestNewWithoutCause 验证 New 创建无 cause 的错误。
func TestNewWithoutCause(t *testing.T) {
	err := Newf("Config.Validate", "unknown driver %q", "mysql")
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
	if !strings.Contains(err.Error(), `unknown driver "mysql"`) {
		t.Errorf("Error() = %q", err.Error())
	}
}

// TestAbortedThroughContextCause 验证 context cause 携带 ErrAborted 时仍可识别。
func TestAbortedThroughContextCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(Wrap(ErrAborted, "Conversation.Cancel", "user cancelled"))
	if !errors.Is(context.Cause(ctx), ErrAborted) {
		t.Fatalf("cause = %v, want ErrAborted in chain", context.Cause(ctx))
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"sentinel", ErrNotFound, CodeNotFound},
		{"wrapped sentinel", Wrap(ErrInvalidInput, "op", "bad"), CodeInvalidInput},
		{"double wrap", Wrap(Wrap(ErrUpstream, "inner", "x"), "outer", "y"), CodeUpstream},
		{"explicit code wins", WithCode(ErrNotFound, "op", CodeRateLimited, "slow down"), CodeRateLimited},
		{"fmt wrapped", fmt.Errorf("ctx: %w", ErrTimeout), CodeTimeout},
		{"plain", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
