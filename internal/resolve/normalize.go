// Package resolve maps a free-form card name to its source record file.
package resolve

import (
	"regexp"
	"strings"
	"unicode"
)

// Match scores.
const (
	ScoreExact     = 100
	ScorePrefix    = 80
	ScoreSubstring = 60

	// MinScore is the lowest score a candidate may have and still resolve.
	MinScore = ScoreSubstring

	// exactFileBonus breaks ties in favour of an exact filename match.
	exactFileBonus = 5
)

// suffixes are editing-pipeline markers appended to record file names.
var suffixes = []string{"_정제", "_최종", "_clean", "_final"}

var (
	jsonExt = regexp.MustCompile(`(?i)\.json$`)
	punct   = regexp.MustCompile(`[\-_()/\[\]{}·.,!?'"…]+`)
)

// Normalize reduces a card or file name to its comparison form: trimmed,
// without a .json extension or the known suffixes, with whitespace and
// punctuation removed, lower-cased. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = jsonExt.ReplaceAllString(s, "")
	// Each suffix is tried once, in list order.
	for _, suf := range suffixes {
		s = strings.TrimSuffix(s, suf)
	}
	s = punct.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ToLower(s)
}

// Score compares two normalized names: 100 when equal, 80 when either is a
// prefix of the other, 60 when either contains the other, 0 otherwise.
// Empty names never match.
func Score(needle, candidate string) int {
	if needle == "" || candidate == "" {
		return 0
	}
	switch {
	case needle == candidate:
		return ScoreExact
	case strings.HasPrefix(candidate, needle), strings.HasPrefix(needle, candidate):
		return ScorePrefix
	case strings.Contains(candidate, needle), strings.Contains(needle, candidate):
		return ScoreSubstring
	default:
		return 0
	}
}
