package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer splits turn text into an ordered token sequence.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// WhitespaceTokenizer splits on Unicode white space and keeps tokens verbatim.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Tokenize(text string) []Token {
	var toks []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, Token{Text: text[start:i], Offset: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, Token{Text: text[start:], Offset: start})
	}
	return toks
}

// WordTokenizer lower-cases text and emits runs of letters/digits as words
// and every other non-space rune as its own token.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(text string) []Token {
	var toks []Token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			toks = append(toks, Token{Text: strings.ToLower(text[start:end]), Offset: start})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			if start < 0 {
				start = i
			}
		case unicode.IsSpace(r):
			flush(i)
		default:
			flush(i)
			_, size := utf8.DecodeRuneInString(text[i:])
			toks = append(toks, Token{Text: text[i : i+size], Offset: i})
		}
	}
	flush(len(text))
	return toks
}

// NewTokenizer returns the tokenizer registered under name.
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "", "whitespace":
		return WhitespaceTokenizer{}, nil
	case "word":
		return WordTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer: %s", name)
	}
}
