package utils

import (
	"os/user"
	"regexp"
	"strings"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
	usernameInvalid = regexp.MustCompile(`[^a-z0-9._-]`)
	repeatedDashes  = regexp.MustCompile(`-+`)
)

// GetUsername returns the current operating system username.
func GetUsername() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", err
	}
	return current.Username, nil
}

// IsValidUsername reports whether name can be used as an SBox username:
// 1 to 64 lowercase letters, digits, dots, underscores or hyphens, not
// starting with punctuation.
func IsValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// SanitizeUsername turns an arbitrary name (typically the OS account) into
// a valid SBox username. It returns "" when nothing usable is left.
func SanitizeUsername(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = usernameInvalid.ReplaceAllString(name, "")
	name = repeatedDashes.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, "-._")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// DefaultUsername returns the sanitized OS username, or "" when it cannot
// be determined.
func DefaultUsername() string {
	name, err := GetUsername()
	if err != nil {
		return ""
	}
	// Windows reports DOMAIN\user.
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return SanitizeUsername(name)
}
