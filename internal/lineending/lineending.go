// Package lineending detects and preserves a file's line-ending convention.
package lineending

import (
	"bytes"
	"strings"
)

// Style is a file's dominant line-ending convention.
type Style int

const (
	// LF is Unix-style "\n".
	LF Style = iota
	// CRLF is Windows-style "\r\n".
	CRLF
)

// String returns the escaped form of the style, e.g. "\\n".
func (s Style) String() string {
	if s == CRLF {
		return `\r\n`
	}
	return `\n`
}

// Sequence returns the literal byte sequence for the style.
func (s Style) Sequence() string {
	if s == CRLF {
		return "\r\n"
	}
	return "\n"
}

// Detect returns the dominant line-ending style of data. Mixed files resolve
// to whichever style occurs more often; ties and files without line breaks
// default to LF.
func Detect(data []byte) Style {
	crlf := bytes.Count(data, []byte("\r\n"))
	lf := bytes.Count(data, []byte("\n")) - crlf
	if crlf > lf {
		return CRLF
	}
	return LF
}

// Normalize converts data to the internal LF representation. All matching
// and editing operates on the normalized form.
func Normalize(data []byte) string {
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}

// Reapply converts LF-normalized text back to the given style for writing.
func Reapply(text string, style Style) []byte {
	if style == CRLF {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	return []byte(text)
}

// Splice replaces the normalized span [start, end) of raw with replacement,
// rendered in style. Bytes outside the span are kept verbatim, so the
// endings of untouched lines in a mixed file survive the edit.
func Splice(raw []byte, start, end int, replacement string, style Style) []byte {
	rs := rawOffset(raw, 0, start)
	re := rawOffset(raw, rs, end-start)

	rendered := Reapply(replacement, style)
	out := make([]byte, 0, rs+len(rendered)+len(raw)-re)
	out = append(out, raw[:rs]...)
	out = append(out, rendered...)
	out = append(out, raw[re:]...)
	return out
}

// rawOffset advances n normalized characters through raw starting at
// from, counting "\r\n" as one.
func rawOffset(raw []byte, from, n int) int {
	i := from
	for j := 0; j < n && i < len(raw); j++ {
		if raw[i] == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
			i += 2
		} else {
			i++
		}
	}
	return i
}
