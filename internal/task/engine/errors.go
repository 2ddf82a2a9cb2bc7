package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped   = errors.New("dispatcher stopped")
	ErrStopping  = errors.New("dispatcher stopping")
	ErrQueueFull = errors.New("dispatcher queue full")
)

// PanicError is the result of a task that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
