// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// GetDataPath returns the estatedesk data directory (~/.estatedesk).
func GetDataPath() string {
	home, _ := os.UserHomeDir()
	p := filepath.Join(home, ".estatedesk")
	os.MkdirAll(p, 0755)
	return p
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path[1:])
}

// TruncateRunes keeps the first maxRunes characters of s and appends suffix
// when anything was cut. Multi-byte text is never split mid-character.
func TruncateRunes(s string, maxRunes int, suffix string) string {
	if maxRunes < 0 {
		maxRunes = 0
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + suffix
		}
		n++
	}
	return s
}

// ParseSessionKey splits a session key "channel_userId" into its parts.
// Channel tags never contain "_", user ids may.
func ParseSessionKey(key string) (channel, userID string, err error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &InvalidSessionKeyError{Key: key}
	}
	return parts[0], parts[1], nil
}

// InvalidSessionKeyError is returned when a session key cannot be parsed.
type InvalidSessionKeyError struct {
	Key string
}

func (e *InvalidSessionKeyError) Error() string {
	return "invalid session key: " + e.Key
}
