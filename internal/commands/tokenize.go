package commands

import "strings"

type tokState int

const (
	stateNormal tokState = iota
	stateInQuotes
)

// Tokenize splits command text on whitespace. Double quotes (straight or
// typographic) group words anywhere; a single quote groups only when it
// starts a token, so an apostrophe inside a word stays literal. A quote of
// one kind inside a group of another is literal. A backslash escapes the next rune in both states.
// Empty quoted groups produce no token.
func Tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		state = stateNormal
		open  rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, r := range s {
		if esc {
			buf.WriteRune(r)
			esc = false
			continue
		}
		if r == '\\' {
			esc = true
			continue
		}
		switch state {
		case stateNormal:
			switch {
			case isQuote(r) && (r != '\'' || buf.Len() == 0):
				state = stateInQuotes
				open = r
			case r == ' ' || r == '\t' || r == '\n' || r == '\r':
				flush()
			default:
				buf.WriteRune(r)
			}
		case stateInQuotes:
			if closes(open, r) {
				state = stateNormal
				continue
			}
			buf.WriteRune(r)
		}
	}
	if esc {
		buf.WriteRune('\\')
	}
	flush()
	return out
}

func isQuote(r rune) bool {
	switch r {
	case '"', '\'', '“', '”', '«':
		return true
	}
	return false
}

func closes(open, r rune) bool {
	switch open {
	case '"', '“', '”':
		return r == '"' || r == '“' || r == '”'
	case '«':
		return r == '»'
	default:
		return r == open
	}
}
