package nzb

import (
	"regexp"
	"strings"
)

var (
	// trailingNamePattern matches the last name-like token ending in an extension,
	// allowing a numeric volume suffix such as .7z.001.
	trailingNamePattern = regexp.MustCompile(`([^\s"/\\]+\.[A-Za-z0-9]{2,4}(?:\.\d{2,3})?)(?:\s|$)`)
	partCounterPattern  = regexp.MustCompile(`\s*[\[(]\d+/\d+[\])]\s*$`)
)

// ExtractFilename derives the member filename from a post subject: the first
// quoted substring wins, otherwise the last token that ends in an extension.
// It returns "" when nothing name-like is found.
func ExtractFilename(subject string) string {
	if start := strings.IndexByte(subject, '"'); start != -1 {
		if end := strings.IndexByte(subject[start+1:], '"'); end > 0 {
			return strings.TrimSpace(subject[start+1 : start+1+end])
		}
	}

	clean := strings.TrimSpace(subject)
	for {
		trimmed := partCounterPattern.ReplaceAllString(clean, "")
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, " yEnc"))
		if trimmed == clean {
			break
		}
		clean = trimmed
	}

	matches := trailingNamePattern.FindAllStringSubmatch(clean, -1)
	if len(matches) == 0 {
		return ""
	}

	return matches[len(matches)-1][1]
}
