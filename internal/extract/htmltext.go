package extract

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	brRe     = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockRe  = regexp.MustCompile(`(?i)</(p|div|tr|td|h[1-6]|ul|ol|blockquote|table)>`)
	liRe     = regexp.MustCompile(`(?i)<li[^>]*>`)
	liEndRe  = regexp.MustCompile(`(?i)</li>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&#160;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
)

// ToPlainText degrades HTML to readable text. Best effort, not a
// standards-conforming renderer: used only when a message has no
// plain-text part.
func ToPlainText(html string) string {
	html = scriptRe.ReplaceAllString(html, "")
	html = styleRe.ReplaceAllString(html, "")

	html = brRe.ReplaceAllString(html, "\n")
	html = blockRe.ReplaceAllString(html, "\n")
	html = liRe.ReplaceAllString(html, "\n- ")
	html = liEndRe.ReplaceAllString(html, "")

	text := tagRe.ReplaceAllString(html, "")
	text = entityReplacer.Replace(text)

	// Trim each line, collapse runs of blank lines to one.
	lines := strings.Split(text, "\n")
	var result []string
	lastWasEmpty := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !lastWasEmpty {
				result = append(result, "")
				lastWasEmpty = true
			}
			continue
		}
		result = append(result, line)
		lastWasEmpty = false
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}
