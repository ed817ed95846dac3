package es

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxResyncsExhausted is matched by every MaxResyncsExhaustedError.
	ErrMaxResyncsExhausted = errors.New("max resyncs exhausted")
)

// MaxResyncsExhaustedError is returned by a Decider when every attempt
// ended in a conflict.
type MaxResyncsExhaustedError struct {
	Stream   StreamName
	Attempts int
}

func (e *MaxResyncsExhaustedError) Error() string {
	return fmt.Sprintf("%s: stream %s conflicted on all %d attempts", ErrMaxResyncsExhausted, e.Stream, e.Attempts)
}

func (e *MaxResyncsExhaustedError) Is(target error) bool { return target == ErrMaxResyncsExhausted }
