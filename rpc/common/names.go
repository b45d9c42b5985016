package common

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLength is the maximum length of a stream name in bytes
const MaxNameLength = 255

// ErrInvalidName is returned for stream names that cannot be used as file names
var ErrInvalidName = errors.New("invalid stream name")

// reservedChars may not appear in stream names, names become file names on
// the recording side
const reservedChars = "\"*/:<>?\\|\x7f"

// ValidateName checks a stream name. Names must be non-empty, at most
// MaxNameLength bytes long and free of control characters and of the
// characters " * / : < > ? \ |
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || strings.IndexByte(reservedChars, c) >= 0 {
			return fmt.Errorf("%w: reserved character %q at offset %d", ErrInvalidName, c, i)
		}
	}
	return nil
}
