package whatsapp

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// markdownRewrites turn model-style markdown into WhatsApp markup. Order
// matters: images before links, headers before bold.
var markdownRewrites = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`), "$2"},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), "$1 ($2)"},
	{regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`), "*$1*"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "*$1*"},
	{regexp.MustCompile(`__(.+?)__`), "*$1*"},
	{regexp.MustCompile(`~~(.+?)~~`), "~$1~"},
	{regexp.MustCompile(`<[^>]+>`), ""},
}

var blankRun = regexp.MustCompile(`\n{3,}`)

// FormatMessage adapts reply text for WhatsApp. Plain text passes through
// unchanged apart from trimming; code spans are native and left alone.
func FormatMessage(text string) string {
	if text == "" {
		return ""
	}
	for _, rw := range markdownRewrites {
		text = rw.re.ReplaceAllString(text, rw.repl)
	}
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of each chunk. Cuts never split a UTF-8
// sequence.
func splitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if i := strings.LastIndexByte(text[:maxLen], '\n'); i > maxLen/2 {
			cut = i + 1
		}
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
