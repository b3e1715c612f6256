// util_test.go — ClampInt / LoadFromEnv / Truncate 表驱动测试。
package util

import (
	"errors"
	"reflect"
	"testing"
	"time"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"below_min", -1, 0, 10, 0},
		{"above_max", 20, 0, 10, 10},
		{"in_range", 5, 0, 10, 5},
		{"at_max", 10, 0, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampInt(tt.v, tt.lo, tt.hi); got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

type envSample struct {
	Addr    string        `env:"UT_ADDR" default:":8080"`
	Rate    int           `env:"UT_RATE" default:"20" min:"1"`
	Offset  int           `env:"UT_OFFSET" default:"-3"`
	Watch   bool          `env:"UT_WATCH" default:"true"`
	Timeout time.Duration `env:"UT_TIMEOUT" default:"30s"`
	Origins []string      `env:"UT_ORIGINS" default:"a, b"`
	Ignored string
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	var s envSample
	if err := LoadFromEnv(&s); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	want := envSample{Addr: ":8080", Rate: 20, Offset: -3, Watch: true, Timeout: 30 * time.Second, Origins: []string{"a", "b"}}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("got %+v, want %+v", s, want)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("UT_ADDR", "127.0.0.1:9000")
	t.Setenv("UT_RATE", "0")
	t.Setenv("UT_WATCH", "off")
	t.Setenv("UT_TIMEOUT", "5")
	t.Setenv("UT_ORIGINS", "")

	var s envSample
	if err := LoadFromEnv(&s); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if s.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", s.Addr)
	}
	if s.Rate != 1 {
		t.Errorf("Rate = %d, want clamped to min 1", s.Rate)
	}
	if s.Watch {
		t.Error("Watch = true, want false")
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", s.Timeout)
	}
	if len(s.Origins) != 2 {
		t.Errorf("Origins = %v, want default when env is empty", s.Origins)
	}
}

func TestLoadFromEnv_RejectsNonPointer(t *testing.T) {
	err := LoadFromEnv(envSample{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 8, "trunc..."},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestToMapAny(t *testing.T) {
	type payload struct {
		Kind string `json:"kind"`
	}
	m := ToMapAny(payload{Kind: "report"})
	if m["kind"] != "report" {
		t.Errorf("ToMapAny struct = %v", m)
	}
	if ToMapAny("not an object") != nil {
		t.Error("ToMapAny(string) should be nil")
	}
}
