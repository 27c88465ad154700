package oa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		name, prefix, in, want string
	}{
		{"adds prefix", "iast-", "jdoe", "iast-jdoe"},
		{"keeps existing prefix", "iast-", "iast-jdoe", "iast-jdoe"},
		{"trims", "iast-", "  jdoe ", "iast-jdoe"},
		{"empty stays empty", "iast-", "   ", ""},
		{"no prefix configured", "", " jdoe ", "jdoe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeUsername(tc.prefix, tc.in))
		})
	}
}

func TestNormalizeUsernameIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SampledFrom([]string{"", "iast-", "x_", " pre- "}).Draw(t, "prefix")
		in := rapid.String().Draw(t, "username")

		once := NormalizeUsername(prefix, in)
		twice := NormalizeUsername(prefix, once)
		if once != twice {
			t.Fatalf("not idempotent: %q then %q", once, twice)
		}

		p := strings.TrimSpace(prefix)
		if once != "" && p != "" {
			if !strings.HasPrefix(once, p) {
				t.Fatalf("%q missing prefix %q", once, p)
			}
			if strings.HasPrefix(strings.TrimSpace(in), p) && strings.HasPrefix(once, p+p) && !strings.HasPrefix(strings.TrimSpace(in), p+p) {
				t.Fatalf("prefix applied twice: %q", once)
			}
		}
	})
}
