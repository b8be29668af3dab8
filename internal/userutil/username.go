// Package userutil derives per-user names for locks.
package userutil

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// lookupUserFn is swapped in tests.
var lookupUserFn = user.Current

// SanitizeUsername makes value safe for file and mutex names.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

// CurrentUsername returns the sanitized name of the invoking user, taken
// from USER or USERNAME, falling back to the account database.
func CurrentUsername() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return SanitizeUsername(v)
		}
	}
	if u, err := lookupUserFn(); err == nil {
		return SanitizeUsername(u.Username)
	}
	return SanitizeUsername("")
}
