package util

import "testing"

func TestFirstNonEmpty(t *testing.T) {
	cases := map[string]struct {
		in   []string
		want string
	}{
		"message id wins over turn id": {[]string{"msg-42", "turn-7"}, "msg-42"},
		"blank message id falls back":  {[]string{"  ", "turn-7"}, "turn-7"},
		"padded slug trimmed":          {[]string{"", " review-agent\n"}, "review-agent"},
		"nothing usable":               {[]string{"", "\t", " "}, ""},
		"no candidates":                {nil, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := FirstNonEmpty(tc.in...); got != tc.want {
				t.Errorf("FirstNonEmpty(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
