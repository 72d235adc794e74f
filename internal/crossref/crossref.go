package crossref

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxSequence is the largest per-year sequence a reference can carry.
const MaxSequence = 9999

// referencePattern matches campaign references such as ISIT-250001:
// an alphanumeric prefix, a two-digit year and a four-digit sequence.
var referencePattern = regexp.MustCompile(`(?i)\b([A-Z][A-Z0-9]{0,9}-\d{6})\b`)

// FormatReference builds the reference for the given prefix, year and
// sequence number.
func FormatReference(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%02d%04d", strings.ToUpper(prefix), year%100, seq)
}

// ExtractReferences extracts all campaign references from text,
// uppercased. Returns a deduplicated list preserving the order of
// first occurrence.
func ExtractReferences(text string) []string {
	matches := referencePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		m = strings.ToUpper(m)
		if seen[m] {
			continue
		}
		seen[m] = true
		result = append(result, m)
	}
	return result
}

// ContainsReference reports whether text already carries ref.
func ContainsReference(text, ref string) bool {
	for _, r := range ExtractReferences(text) {
		if r == strings.ToUpper(ref) {
			return true
		}
	}
	return false
}
