package inbox

import (
	"strings"
	"unicode/utf8"
)

// Settings keys read by the reconciler.
const (
	SettingKeywordsEN  = "unsubscribe_keywords_en"
	SettingKeywordsFR  = "unsubscribe_keywords_fr"
	SettingUnsubFolder = "unsubscribe_folders"
)

// scanPrefix is how much of a body is searched for unsubscribe keywords.
const scanPrefix = 500

// DefaultKeywordsEN are the English unsubscribe phrases.
var DefaultKeywordsEN = []string{
	"unsubscribe",
	"remove me",
	"opt out",
	"opt-out",
	"stop emailing",
	"take me off",
	"no longer wish to receive",
	"do not contact",
}

// DefaultKeywordsFR are the French unsubscribe phrases.
var DefaultKeywordsFR = []string{
	"désabonner",
	"désabonnement",
	"désinscrire",
	"désinscription",
	"ne plus recevoir",
	"retirez-moi",
	"me retirer",
}

// ParseList splits a comma or newline separated setting value, dropping
// blanks. It returns nil for an empty value.
func ParseList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// FormatList joins values for storage in a setting.
func FormatList(values []string) string {
	return strings.Join(values, ", ")
}

// MatchKeyword returns the first keyword found, case-insensitively, in
// the subject or the first scanPrefix characters of the body.
func MatchKeyword(subject, body string, keywords []string) (string, bool) {
	text := strings.ToLower(subject + "\n" + truncateRunes(body, scanPrefix))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
