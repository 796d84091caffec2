package storage

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey is returned for keys that cannot be mapped onto every backend.
var ErrInvalidKey = errors.New("invalid storage key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

func validateKey(key string) error {
	if len(key) > 128 || !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
