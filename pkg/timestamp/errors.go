package timestamp

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by Earliest when there is nothing to compare.
var ErrEmpty = errors.New("no timestamps")

// FormatError reports anchor or stamp text that does not match its layout.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed timestamp %q: %s", e.Input, e.Reason)
}

// ValueError reports an offset that cannot be applied to the chain.
type ValueError struct {
	// Index is the position in the offset vector, or -1 when unknown.
	Index  int
	Value  string
	Reason string
}

func (e *ValueError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid offset %q: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid offset %q at frame %d: %s", e.Value, e.Index, e.Reason)
}
