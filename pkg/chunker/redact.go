package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const redactedToken = "[redacted]"

// secretPatterns match credentials and contact details that should not leave
// the machine inside an embedding request.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`),
}

// Redact masks secrets in text. A match is replaced by a marker, or by
// asterisks when the marker would be longer, so redaction never lengthens a
// chunk. The second result reports whether anything was masked.
func Redact(text string) (string, bool) {
	changed := false
	for _, re := range secretPatterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			changed = true
			n := utf8.RuneCountInString(m)
			if n >= len(redactedToken) {
				return redactedToken
			}
			return strings.Repeat("*", n)
		})
	}
	return text, changed
}
