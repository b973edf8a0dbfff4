package lexical

import (
	"regexp"
	"strings"
)

// wordRegex matches identifier-like runs; everything else is a separator.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize splits text with code-aware rules: identifier runs are split
// again on snake_case and camelCase boundaries (acronym-aware), tokens
// are lowercased, and tokens shorter than two characters drop. No
// stemming, so "handler" and "handlers" stay distinct terms.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, s := range splitIdentifier(word) {
			tok := strings.ToLower(word[s.start:s.end])
			if len(tok) >= 2 {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// span is a subtoken's byte range inside an identifier. Identifiers are
// ASCII by construction (wordRegex), so byte indexing is rune-safe.
type span struct {
	start, end int
}

// splitIdentifier finds snake_case and camelCase subtoken boundaries.
// An uppercase letter opens a new subtoken when the previous letter is
// lowercase ("getUser" -> get, User) or the next one is ("HTTPServer"
// -> HTTP, Server), which keeps acronyms intact.
func splitIdentifier(word string) []span {
	var spans []span
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			spans = append(spans, span{start, end})
		}
		start = -1
	}
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c == '_' {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		if isUpper(c) {
			prevLower := isLower(word[i-1])
			nextLower := i+1 < len(word) && isLower(word[i+1])
			if prevLower || nextLower {
				flush(i)
				start = i
			}
		}
	}
	flush(len(word))
	return spans
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// codeStopWords are programming keywords and throwaway identifier names
// that appear in nearly every code chunk and carry no search signal.
var codeStopWords = map[string]struct{}{
	"var": {}, "let": {}, "const": {}, "func": {}, "function": {},
	"def": {}, "class": {}, "return": {}, "if": {}, "else": {},
	"for": {}, "while": {},
	"data": {}, "result": {}, "value": {}, "item": {}, "key": {},
	"err": {}, "ctx": {}, "tmp": {},
}
