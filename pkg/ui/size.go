package ui

import (
	"fmt"
	"math"

	"coursedl/pkg/errors"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatSize renders a byte count in decimal (base 1000) units with exactly
// one fractional digit, e.g. 1000 -> "1.0KB". Zero is rendered as "0B".
func FormatSize(bytes int64) (string, error) {
	if bytes < 0 {
		return "", errors.NewInvalidArgumentError(fmt.Sprintf("size cannot be negative: %d", bytes))
	}
	if bytes == 0 {
		return "0B", nil
	}

	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1000)))
	// log rounding can land just below an exact power of 1000
	for i+1 < len(sizeUnits) && float64(bytes) >= math.Pow(1000, float64(i+1)) {
		i++
	}
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}

	value := float64(bytes) / math.Pow(1000, float64(i))
	return fmt.Sprintf("%.1f%s", value, sizeUnits[i]), nil
}

// MustFormatSize is FormatSize for sizes already known to be non-negative
func MustFormatSize(bytes int64) string {
	s, err := FormatSize(bytes)
	if err != nil {
		return "?"
	}
	return s
}
