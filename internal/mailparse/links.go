package mailparse

import (
	"regexp"
	"strings"
)

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)
	hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
)

// ExtractLinks returns the http(s) URLs found in the text body and in
// href attributes of the HTML body. The list is deduplicated and keeps
// the order of first occurrence.
func ExtractLinks(text, html string) []string {
	var candidates []string
	candidates = append(candidates, urlPattern.FindAllString(text, -1)...)
	for _, m := range hrefPattern.FindAllStringSubmatch(html, -1) {
		candidates = append(candidates, entityReplacer.Replace(m[1]))
	}
	candidates = append(candidates, urlPattern.FindAllString(entityReplacer.Replace(html), -1)...)

	seen := make(map[string]bool)
	var result []string
	for _, c := range candidates {
		c = strings.TrimRight(c, ".,;:!?")
		lower := strings.ToLower(c)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		result = append(result, c)
	}
	return result
}
