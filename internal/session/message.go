package session

import (
	"fmt"
	"regexp"
	"strings"
)

// TrailerKey is the commit message trailer that carries the session ID.
const TrailerKey = "gitscribe-id"

var trailerLine = regexp.MustCompile(`^[A-Za-z0-9-]+: `)

// AppendTrailer appends a trailer to a commit message. Trailing newlines
// are trimmed first; when the message already ends in a trailer block the
// new trailer joins it, otherwise it starts a new paragraph.
func AppendTrailer(message, key, value string) string {
	trailer := fmt.Sprintf("%s: %s", key, value)

	message = strings.TrimRight(message, "\n")
	if message == "" {
		return trailer
	}

	lines := strings.Split(message, "\n")
	last := lines[len(lines)-1]
	if trailerLine.MatchString(last) {
		return message + "\n" + trailer
	}
	return message + "\n\n" + trailer
}

// Trailer returns the value of the last occurrence of key in the message,
// or "" when absent.
func Trailer(message, key string) string {
	prefix := key + ": "
	value := ""
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, prefix) {
			value = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return value
}

// BuildMessage assembles the session commit message: subject line, the
// originating prompt, one bullet per recorded edit, and the session ID
// trailer last.
func BuildMessage(subject, prompt, sessionID string, descriptions []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(subject))

	if p := strings.TrimSpace(prompt); p != "" {
		b.WriteString("\n\n")
		b.WriteString(p)
	}

	if len(descriptions) > 0 {
		b.WriteString("\n")
		for _, d := range descriptions {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(d))
		}
	}

	return AppendTrailer(b.String(), TrailerKey, sessionID)
}
