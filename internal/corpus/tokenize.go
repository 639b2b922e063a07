package corpus

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Token of a sentence. Start and End are rune offsets, End is exclusive.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	ID    int    `json:"id"`
	WS    bool   `json:"ws"` // followed by whitespace
}

// Normalize returns the NFC form of s, all offsets refer to it.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Tokenize splits a normalized sentence into word and punctuation tokens.
// Hyphens and apostrophes between letters stay in the word, a possessive
// 's is split off.
func Tokenize(text string) []Token {
	runes := []rune(text)
	var tokens []Token
	add := func(start, end int) {
		tokens = append(tokens, Token{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
			ID:    len(tokens),
		})
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			if n := len(tokens); n > 0 && tokens[n-1].End == i {
				tokens[n-1].WS = true
			}
			i++
		case isWord(r):
			start := i
			for i < len(runes) && (isWord(runes[i]) || isJoiner(runes, i)) {
				i++
			}
			if end := possessive(runes, start, i); end > 0 {
				add(start, end)
				add(end, i)
			} else {
				add(start, i)
			}
		default:
			add(i, i+1)
			i++
		}
	}
	return tokens
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

// isJoiner reports a hyphen or apostrophe with word runes on both sides.
func isJoiner(runes []rune, i int) bool {
	switch runes[i] {
	case '-', '\'', '’':
	default:
		return false
	}
	return i > 0 && i+1 < len(runes) && isWord(runes[i-1]) && isWord(runes[i+1])
}

// possessive returns the offset of a trailing 's of the word, 0 if there is none.
func possessive(runes []rune, start, end int) int {
	if end-start < 3 {
		return 0
	}
	if !strings.EqualFold(string(runes[end-1]), "s") {
		return 0
	}
	if a := runes[end-2]; a != '\'' && a != '’' {
		return 0
	}
	return end - 2
}
