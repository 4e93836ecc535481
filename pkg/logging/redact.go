package logging

import (
	"regexp"
	"strings"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Cards are matched before phones so a card number is not half-consumed as a phone number.
var redactions = []redaction{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[CARD_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{regexp.MustCompile(`\b(?:\+?1[-.]?)?\(?\d{3}\)?[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)Authorization:\s*\S+`), "Authorization: [AUTH_REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`), "[KEY_REDACTED]"},
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
}

// Redact replaces personally identifiable information and credentials in s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// IsSensitiveKey reports whether values logged under key must be dropped entirely.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}
