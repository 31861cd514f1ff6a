package mailparse

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	htmlHiddenPattern = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	htmlBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])>`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

// stripHTML renders an HTML body as plain text for inboxes that only
// received an HTML part.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := htmlHiddenPattern.ReplaceAllString(html, "")
	result = htmlBreakPattern.ReplaceAllString(result, "\n")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = entityReplacer.Replace(result)

	lines := strings.Split(result, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	result = strings.Join(lines, "\n")

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(result)
}
