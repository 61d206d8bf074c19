package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute names whose values never reach the log.
var sensitiveKeys = []string{"secret", "password", "passphrase", "token", "signature", "dsn"}

var kvPassword = regexp.MustCompile(`(?i)(password\s*=\s*)(\S+)`)

// MaskValue hides non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// Sensitive reports whether key names a credential.
func Sensitive(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range sensitiveKeys {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// MaskField returns value under key, masked when the key names a credential.
func MaskField(key, value string) slog.Attr {
	if Sensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// RedactDSN strips the password from a database DSN while keeping the host
// and database name readable. URL and key=value forms are both handled.
func RedactDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return RedactedValue
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
		}
		if q := u.Query(); q.Has("password") {
			q.Set("password", "xxxxx")
			u.RawQuery = q.Encode()
		}
		return strings.Replace(u.String(), "xxxxx", RedactedValue, -1)
	}
	return kvPassword.ReplaceAllString(trimmed, "${1}"+RedactedValue)
}
