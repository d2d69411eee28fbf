package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func newReqID() string { return uuid.NewString()[:8] }

// parseCommand splits "/name@bot arg1 arg2" into the lowercased name, the
// tokenized args and the raw text after the name. ok is false for text that
// is not a command.
func parseCommand(text string) (name string, args []string, raw string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", nil, "", false
	}
	head, rest := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], head[i+1:]
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", nil, "", false
	}
	raw = strings.TrimSpace(rest)
	return strings.ToLower(head), tokenize(raw), raw, true
}

// tokenize splits on whitespace and honors single or double quotes and
// backslash escapes:
//
//	a "b c" 'd e' f\ g  ->  [a, b c, d e, f g]
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		have  bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, have = true, ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
			have = true
		}
	}
	flush()
	return out
}
