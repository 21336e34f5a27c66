// Package split breaks oversized responses into numbered parts that each fit
// the transport byte ceiling.
package split

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// prefixReserve is the byte size of a "[n/n] " prefix used for the first estimate.
const prefixReserve = 7

// Part is one numbered piece of a split message.
type Part struct {
	Index  int
	Total  int
	Prefix string
	Body   string
}

// String returns the wire text of the part.
func (p Part) String() string {
	return p.Prefix + p.Body
}

// Strings returns the wire text of every part in order.
func Strings(parts []Part) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, part.String())
	}

	return out
}

var sentenceBreaks = []string{". ", "! ", "? "}
var clauseBreaks = []string{", ", "; "}

// Split returns content as an ordered list of parts whose UTF-8 encoding,
// prefix included, never exceeds maxBytes.
//
// Content that already fits is returned unchanged as a single part without a
// prefix. Otherwise every part carries a "[i/n] " prefix. Cuts prefer a
// newline, then sentence punctuation, then a comma or semicolon, then a space,
// each only when it lies past the middle of the candidate chunk; a cut never
// lands inside a multi-byte code point.
func Split(content string, maxBytes int) []Part {
	if len(content) <= maxBytes {
		return []Part{{Index: 1, Total: 1, Body: content}}
	}

	effective := maxBytes - prefixReserve
	if effective < 1 {
		effective = 1
	}
	estimate := (len(content) + effective - 1) / effective

	for {
		bodies := cut(content, maxBytes, estimate)
		// Renumbering may only shrink prefixes, never grow them past the
		// width the bodies were sized against.
		if digits(len(bodies)) <= digits(estimate) {
			return number(bodies)
		}
		estimate = len(bodies)
	}
}

func cut(content string, maxBytes int, estimate int) []string {
	var bodies []string
	remaining := content

	for remaining != "" {
		prefix := prefixFor(len(bodies)+1, estimate)
		available := maxBytes - len(prefix)

		if len(remaining) <= available {
			bodies = append(bodies, remaining)
			break
		}

		at := safeCut(remaining, available)
		if at == 0 {
			// Budget cannot hold a single code point; emit one anyway so the
			// loop always makes progress.
			_, size := utf8.DecodeRuneInString(remaining)
			at = size
		}
		at = semanticCut(remaining[:at], at)

		body := strings.TrimRightFunc(remaining[:at], unicode.IsSpace)
		if body != "" {
			bodies = append(bodies, body)
		}
		remaining = strings.TrimLeftFunc(remaining[at:], unicode.IsSpace)
	}

	return bodies
}

// safeCut returns the largest code point boundary at or below limit.
func safeCut(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	if limit <= 0 {
		return 0
	}

	i := limit
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}

	return i
}

// semanticCut moves a cut back to the best readable boundary in chunk.
func semanticCut(chunk string, fallback int) int {
	half := len(chunk) / 2

	if pos := strings.LastIndex(chunk, "\n"); pos > half {
		return pos + 1
	}
	for _, sep := range sentenceBreaks {
		if pos := strings.LastIndex(chunk, sep); pos > half {
			return pos + len(sep)
		}
	}
	for _, sep := range clauseBreaks {
		if pos := strings.LastIndex(chunk, sep); pos > half {
			return pos + len(sep)
		}
	}
	if pos := strings.LastIndex(chunk, " "); pos > half {
		return pos + 1
	}

	return fallback
}

func number(bodies []string) []Part {
	total := len(bodies)
	parts := make([]Part, 0, total)
	for i, body := range bodies {
		parts = append(parts, Part{
			Index:  i + 1,
			Total:  total,
			Prefix: prefixFor(i+1, total),
			Body:   body,
		})
	}

	return parts
}

func prefixFor(index int, total int) string {
	return fmt.Sprintf("[%d/%d] ", index, total)
}

func digits(n int) int {
	return len(strconv.Itoa(n))
}
