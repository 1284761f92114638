// Package tokenize provides the language-agnostic segmenter used by the
// lexical index and the prefix-completion engine.
//
// Rules: each Han rune is its own token; runs of letters and digits in other
// scripts form one token; everything else (whitespace, punctuation) is a
// separator. Offsets into the original string are preserved so callers can
// reconstruct prefixes with their original separators.
package tokenize

import (
	"strings"
	"unicode"
)

// Token is a segment of the input with byte offsets into the original string.
type Token struct {
	Text  string
	Start int
	End   int
}

// Tokenize splits s into tokens.
func Tokenize(s string) []Token {
	var tokens []Token
	runStart := -1

	flush := func(end int) {
		if runStart >= 0 {
			tokens = append(tokens, Token{Text: s[runStart:end], Start: runStart, End: end})
			runStart = -1
		}
	}

	for i, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush(i)
			end := i + len(string(r))
			tokens = append(tokens, Token{Text: s[i:end], Start: i, End: end})
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if runStart < 0 {
				runStart = i
			}
		default:
			flush(i)
		}
	}
	flush(len(s))
	return tokens
}

// Terms returns the normalized token texts of s.
func Terms(s string) []string {
	toks := Tokenize(s)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = Normalize(t.Text)
	}
	return out
}

// Normalize lowercases a token for matching.
func Normalize(term string) string {
	return strings.ToLower(term)
}

// NormalizeText canonicalizes a full text for case-insensitive,
// whitespace-normalized equality (dedup across suggestion sources).
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
