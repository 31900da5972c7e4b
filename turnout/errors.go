package turnout

import "errors"

var (
	// ErrInvalidState indicates a commanded position other than Closed or Thrown.
	ErrInvalidState = errors.New("turnout: invalid state")

	// ErrInvalidMode indicates an unknown feedback mode.
	ErrInvalidMode = errors.New("turnout: invalid feedback mode")

	// ErrDisposed indicates an operation on a turnout that was disposed.
	ErrDisposed = errors.New("turnout: disposed")

	// ErrManagerClosed indicates an operation on a closed Manager.
	ErrManagerClosed = errors.New("turnout: manager closed")
)
