package ledger

import "strings"

// Sanitize strips control characters and caps content length before
// storage. Over-long content is truncated with an ellipsis marker.
func Sanitize(content string, maxLen int) string {
	content = strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return -1
		}
		return r
	}, content)

	if maxLen > 0 {
		runes := []rune(content)
		if len(runes) > maxLen {
			content = string(runes[:maxLen]) + "..."
		}
	}
	return content
}

// DeriveTitle builds a session title from message content: trimmed,
// newlines flattened, first 30 characters.
func DeriveTitle(content string) string {
	title := strings.ReplaceAll(strings.TrimSpace(content), "\n", " ")
	runes := []rune(title)
	if len(runes) > 30 {
		title = string(runes[:30])
	}
	return title
}
