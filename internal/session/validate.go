package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName reports whether name can be used as a session directory.
// A leading hyphen is rejected so names never read as CLI flags.
func ValidateName(name string) error {
	switch {
	case !namePattern.MatchString(name):
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, namePattern)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("%w %q: must not start with '-'", ErrInvalidName, name)
	}
	return nil
}
