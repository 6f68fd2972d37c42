package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when using a handle after Close
	ErrClosed = errors.New("handle is closed")
	// ErrNoEngine is returned when a reliable endpoint is built without an engine
	ErrNoEngine = errors.New("reliable transport engine not configured")
)

// Error is a failure of the transport itself: bind, handshake or I/O.
// Transport errors are never retried.
type Error struct {
	// Op is one of bind, handshake, split, receive or send
	Op       string
	Endpoint string
	Err      error
}

// Error implements error
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps an *Error
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
