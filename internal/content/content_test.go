package content

import (
	"testing"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Alice Liddell", "Alice Liddell"},
		{"HTML tags", "<b>Alice</b>", "Alice"},
		{"Script tag", "Bob<script>alert('xss')</script>", "Bob"},
		{"Ampersand", "Tom & Jerry", "Tom & Jerry"},
		{"Whitespace", "  Carol  ", "Carol"},
		{"Emoji", "Зоя 👋", "Зоя 👋"},
		{"Encoded script", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"Double encoded tag", "&amp;lt;b&amp;gt;Dan", "Dan"},
		{"Encoded ampersand", "Tom &amp; Jerry", "Tom & Jerry"},
		{"Spaced less-than", "a &lt; b", "a < b"},
		{"Bracketed name", "<Alice>", ""},
		{"Unterminated tag", "a<b", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.input); got != tt.expected {
				t.Errorf("PlainText() = %v, want %v", got, tt.expected)
			}
		})
	}
}
