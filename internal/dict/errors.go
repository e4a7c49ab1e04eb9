package dict

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is returned when bytes are not a well-formed document.
	ErrFormat = errors.New("malformed document")

	// ErrTooDeep is returned by Marshal for trees nested beyond MaxDepth.
	ErrTooDeep = errors.New("document nested too deeply")

	// ErrTypeMismatch is returned when a key is present with an unexpected kind.
	ErrTypeMismatch = errors.New("value type mismatch")
)

// TypeError describes a present value of the wrong kind.
type TypeError struct {
	Key  string
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("key %q holds %s, want %s", e.Key, e.Got, e.Want)
}

// Is reports whether target is ErrTypeMismatch.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
