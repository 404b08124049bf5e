package network

import (
	"errors"
	"fmt"
)

var (
	// ErrDraining is returned by reads on a connection that is being shut down.
	ErrDraining = errors.New("connection is draining")

	// ErrConnectionClosed is returned by writes on a closed connection.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrNotListening is returned by Serve before a successful Listen.
	ErrNotListening = errors.New("listener is not bound")
)

// BindError reports that the honeypot address could not be bound. It is
// fatal: nothing is accepted when it occurs.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
