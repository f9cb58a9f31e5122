package delivery

import "errors"

var (
	// ErrTerminal is returned for any transition out of sent or cancelled.
	// Callers treat it as a no-op.
	ErrTerminal = errors.New("delivery task is terminal")
	// ErrInvalidTransition covers the remaining illegal moves, e.g. resetting a
	// pending task or completing a failed one.
	ErrInvalidTransition = errors.New("invalid delivery task transition")
)
