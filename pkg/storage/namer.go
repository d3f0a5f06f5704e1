package storage

import (
	"coursedl/pkg/errors"
	"strings"
)

// Sanitize replaces every rune outside [A-Za-z0-9-_.() ] with an underscore.
// The result has the same number of runes as s, in the same order.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if isSafeRune(r) {
			return r
		}
		return '_'
	}, s)
}

// SafeName sanitizes a non-empty title for use as a file or directory name
func SafeName(s string) (string, error) {
	if s == "" {
		return "", errors.NewInvalidArgumentError("cannot derive a file name from an empty title")
	}
	return Sanitize(s), nil
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == '(', r == ')', r == ' ':
		return true
	}
	return false
}
