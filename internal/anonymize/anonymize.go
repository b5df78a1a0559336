package anonymize

import "regexp"

const placeholder = "[REDACTED]"

// Redact replaces every case-insensitive occurrence of term in text with
// the redaction placeholder. term is matched literally.
func Redact(text, term string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term))
	return re.ReplaceAllString(text, placeholder)
}
