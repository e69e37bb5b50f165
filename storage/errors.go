package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrExists     = errors.New("storage: object exists")
	ErrInvalidKey = errors.New("storage: invalid key")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsExists(err error) bool { return errors.Is(err, ErrExists) }

// CheckKey validates key against the contract's key grammar.
func CheckKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		for _, c := range part {
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
				continue
			}
			return fmt.Errorf("%w: invalid character %q in %q", ErrInvalidKey, c, key)
		}
	}
	return nil
}
