package store

import (
	"strings"
	"unicode"
)

// DefaultStopWords are dropped from both documents and queries. Card
// records mix Korean and English; only high-frequency English function
// words are listed since Korean particles attach to words and are handled
// by bigrams.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"how", "in", "is", "it", "of", "on", "or", "the", "to", "what",
	"when", "which", "with",
}

// Token is a term with its byte offsets in the source text.
type Token struct {
	Term  string
	Start int
	End   int
}

// TokenizeText splits text into lower-cased letter/digit runs. Runs of
// Hangul additionally emit overlapping two-syllable bigrams so that a query
// word matches the same stem with a particle attached ("연회비" vs
// "연회비는").
func TokenizeText(text string) []Token {
	var (
		tokens []Token
		start  = -1
	)

	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		tokens = append(tokens, Token{Term: strings.ToLower(word), Start: start, End: end})
		tokens = append(tokens, hangulBigrams(word, start)...)
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// Terms returns just the terms of TokenizeText, minus stop words.
func Terms(text string, stopWords map[string]struct{}) []string {
	toks := TokenizeText(text)
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, stop := stopWords[t.Term]; !stop {
			out = append(out, t.Term)
		}
	}
	return out
}

func hangulBigrams(word string, offset int) []Token {
	type runePos struct {
		r   rune
		pos int
	}
	var runes []runePos
	for i, r := range word {
		runes = append(runes, runePos{r, i})
	}
	if len(runes) < 3 {
		// a one- or two-syllable word is already its own bigram
		return nil
	}

	var out []Token
	for i := 0; i+1 < len(runes); i++ {
		a, b := runes[i], runes[i+1]
		if !unicode.Is(unicode.Hangul, a.r) || !unicode.Is(unicode.Hangul, b.r) {
			continue
		}
		end := len(word)
		if i+2 < len(runes) {
			end = runes[i+2].pos
		}
		out = append(out, Token{
			Term:  string([]rune{a.r, b.r}),
			Start: offset + a.pos,
			End:   offset + end,
		})
	}
	return out
}

// BuildStopWordMap converts a slice of stop words to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
