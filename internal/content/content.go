package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxPlainTextRounds = 8

var policy = bluemonday.StrictPolicy()

// PlainText strips every HTML element from the input and returns the
// remaining text unescaped and trimmed. Entity-encoded markup is stripped
// too: the input is sanitized and unescaped until it stops changing. It is
// used for profile fields that arrive from outside, like display names.
func PlainText(input string) string {
	text := strings.TrimSpace(input)
	for range maxPlainTextRounds {
		next := strings.TrimSpace(html.UnescapeString(policy.Sanitize(text)))
		if next == text {
			return text
		}
		text = next
	}
	// nested encodings still unfold into new markup, keep them escaped
	return strings.TrimSpace(policy.Sanitize(text))
}
