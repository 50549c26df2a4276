package strings

import (
	"testing"
	"unicode/utf8"
)

func TestSingleLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "conflict", 10, "conflict"},
		{"exact length unchanged", "conflict", 8, "conflict"},
		{"long string truncated", "configmaps \"sales-domain\" is forbidden", 15, "configmaps \"..."},
		{"newlines replaced", "apply failed\ncluster frontend", 40, "apply failed cluster frontend"},
		{"carriage returns handled", "a\r\nb", 10, "a b"},
		{"tabs and spaces collapsed", "a\t\t b    c", 10, "a b c"},
		{"trimmed", "  timeout  ", 10, "timeout"},
		{"empty string", "", 10, ""},
		{"whitespace only becomes empty", " \n\t ", 10, ""},
		{"small maxLen clamped", "hello", 2, "h..."},
		{"negative maxLen clamped", "hello", -5, "h..."},
		{"short string with small maxLen unchanged", "hi", 3, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SingleLine(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("SingleLine(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestSingleLine_RuneLength(t *testing.T) {
	input := "réplica défaillante"
	result := SingleLine(input, 8)

	if result != "répli..." {
		t.Errorf("Expected %q but got %q", "répli...", result)
	}
	if !utf8.ValidString(result) {
		t.Errorf("Result %q is not valid UTF-8", result)
	}
	if n := utf8.RuneCountInString(result); n != 8 {
		t.Errorf("Expected 8 runes but got %d", n)
	}
}
