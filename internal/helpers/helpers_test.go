package helpers

import (
	"bytes"
	"strings"
	"testing"
)

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain filename", "IMG_0001.HEIC", "IMG_0001.HEIC"},
		{"spaces kept", "Summer Trip 2023", "Summer Trip 2023"},
		{"path separators", `photos/2023\july`, "photos_2023_july"},
		{"unsafe characters", `a<b>c:d"e|f?g*h`, "a_b_c_d_e_f_g_h"},
		{"control characters", "con\x01trol", "con_trol"},
		{"collapsed underscores", "a//b", "a_b"},
		{"trailing dots trimmed", "name...", "name"},
		{"surrounding whitespace", "  name  ", "name"},
		{"dots only", "...", "unnamed"},
		{"empty", "", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSegment(tt.input); got != tt.expected {
				t.Errorf("SanitizeSegment(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeSegmentLongName(t *testing.T) {
	long := strings.Repeat("a", 300) + ".heic"
	got := SanitizeSegment(long)
	if len(got) > 255 {
		t.Errorf("sanitized name is %d chars, want <= 255", len(got))
	}
	if !strings.HasSuffix(got, ".heic") {
		t.Errorf("extension not preserved: %q", got)
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{0, "0B"},
		{500, "500.00B"},
		{1024, "1.00KB"},
		{1536, "1.50KB"},
		{1048576, "1.00MB"},
		{1073741824, "1.00GB"},
	}
	for _, tt := range tests {
		if got := BytesToSize(tt.bytes); got != tt.expected {
			t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}

func TestCounterWriter(t *testing.T) {
	var buf bytes.Buffer
	var reported []int64
	cw := &CounterWriter{
		Writer:  &buf,
		OnChunk: func(total int64) { reported = append(reported, total) },
	}

	cw.Write([]byte("hello"))
	cw.Write([]byte(" world"))

	if cw.Total != 11 {
		t.Errorf("Total = %d, want 11", cw.Total)
	}
	if buf.String() != "hello world" {
		t.Errorf("wrote %q, want %q", buf.String(), "hello world")
	}
	if len(reported) != 2 || reported[0] != 5 || reported[1] != 11 {
		t.Errorf("OnChunk saw %v, want [5 11]", reported)
	}
}
