package mailtext

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	blockTags  = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	breakTags  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n\s*\n+`)
)

// HTMLToText drops markup, keeping paragraph breaks.
func HTMLToText(s string) string {
	s = blockTags.ReplaceAllString(s, " ")
	s = breakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// Snippet collapses whitespace and cuts text to at most n runes.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:n])) + "..."
}

// PickBody prefers the plain-text part and falls back to the HTML one.
func PickBody(plain, htmlBody string) string {
	if p := strings.TrimSpace(plain); p != "" {
		return p
	}
	if htmlBody != "" {
		return HTMLToText(htmlBody)
	}
	return ""
}
