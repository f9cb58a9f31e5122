package engine

import "errors"

var (
	ErrStopped = errors.New("task engine stopped")
	// ErrPanic wraps a recovered job panic.
	ErrPanic = errors.New("task panicked")
)
