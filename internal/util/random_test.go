package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "request ID format",
			prefix:     "req_",
			hexLength:  16,
			wantPrefix: "req_",
			wantLength: 20,
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  8,
			wantPrefix: "test_",
			wantLength: 13,
		},
		{
			name:       "empty prefix",
			prefix:     "",
			hexLength:  12,
			wantPrefix: "",
			wantLength: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(id, tt.wantPrefix) {
				t.Errorf("GenerateRandomID(%q, %d) = %q, missing prefix %q", tt.prefix, tt.hexLength, id, tt.wantPrefix)
			}
			if len(id) != tt.wantLength {
				t.Errorf("GenerateRandomID(%q, %d) length = %d, want %d", tt.prefix, tt.hexLength, len(id), tt.wantLength)
			}
			for _, c := range id[len(tt.prefix):] {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("unexpected non-hex character %q in %q", c, id)
				}
			}
		})
	}
}

func TestGenerateRandomHexUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRandomHex(16)
		if seen[id] {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateRandomHexZeroLength(t *testing.T) {
	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := GenerateRandomHex(-5); got != "" {
		t.Errorf("expected empty string for negative length, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, c := range cases {
		t.Setenv("NURSETALK_TEST_BOOL", c.value)
		if got := ParseBoolEnv("NURSETALK_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("NURSETALK_TEST_INT", "42")
	if got := ParseIntEnv("NURSETALK_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("NURSETALK_TEST_INT", "not-a-number")
	if got := ParseIntEnv("NURSETALK_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
	t.Setenv("NURSETALK_TEST_INT", "")
	if got := ParseIntEnv("NURSETALK_TEST_INT", 9); got != 9 {
		t.Errorf("expected default 9, got %d", got)
	}
}
