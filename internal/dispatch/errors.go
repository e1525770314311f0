package dispatch

import (
	"errors"
	"fmt"
)

// Dispatcher errors.
var (
	// ErrStreaming indicates the sink list was modified while open.
	ErrStreaming = errors.New("dispatcher is streaming")

	// ErrDuplicateSink indicates a sink name is already registered.
	ErrDuplicateSink = errors.New("duplicate sink name")
)

// SinkError wraps an error with the sink it came from.
type SinkError struct {
	SinkID   string
	SinkName string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink %s (%s): %v", e.Op, e.SinkName, e.SinkID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error {
	return e.Err
}
