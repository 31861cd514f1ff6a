package mailparse

import (
	"regexp"
	"strings"
)

const (
	maxCodes = 5
	// codeWindow is how many lines after a keyword line are searched,
	// for bodies like "Your code is:\n\n  123456".
	codeWindow = 2
)

var (
	codePattern = regexp.MustCompile(`\b([A-Z0-9]{3,4}-[A-Z0-9]{3,4}|\d{4,8})\b`)
	codeKeyword = regexp.MustCompile(`(?i)\b(code|otp|pin|passcode|password|verification|verify|confirm|one[- ]time|token)\b`)
	yearPattern = regexp.MustCompile(`^(19|20)\d\d$`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
	hasDigit    = regexp.MustCompile(`\d`)
)

// ExtractCodes returns likely verification codes from the subject and the
// text body. Only lines mentioning a code keyword, and the few lines after
// them, are searched. The list is deduplicated, keeps the order of first
// occurrence and holds at most maxCodes entries.
func ExtractCodes(subject, text string) []string {
	lines := append([]string{subject}, strings.Split(text, "\n")...)

	seen := make(map[string]bool)
	var result []string
	armed := 0
	for _, line := range lines {
		if codeKeyword.MatchString(line) {
			armed = codeWindow + 1
		}
		if armed == 0 {
			continue
		}
		if strings.TrimSpace(line) != "" {
			armed--
		}
		for _, m := range codePattern.FindAllString(line, -1) {
			if !plausibleCode(m) || seen[m] {
				continue
			}
			seen[m] = true
			result = append(result, m)
			if len(result) == maxCodes {
				return result
			}
		}
	}
	return result
}

func plausibleCode(s string) bool {
	if digitsOnly.MatchString(s) {
		return !(len(s) == 4 && yearPattern.MatchString(s))
	}
	// Dashed codes need a digit so words like "ABC-DEF" are skipped.
	return hasDigit.MatchString(s)
}
