package util

import "testing"

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  string
	}{
		{"all empty", []string{"", "  ", "\t"}, ""},
		{"env wins", []string{"/data/zknotes", "/home/u/Documents"}, "/data/zknotes"},
		{"fallback", []string{"", "  ", "/home/u/Documents"}, "/home/u/Documents"},
		{"no args", nil, ""},
		{"trims whitespace", []string{"  trimmed  "}, "trimmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirstNonEmpty(tt.input...)
			if got != tt.want {
				t.Errorf("FirstNonEmpty(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
