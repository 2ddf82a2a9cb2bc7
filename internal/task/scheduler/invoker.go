package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Invoker runs one execution of a job.
//
// Invoke reports the outcome on the returned channel; a channel closed
// without a value means success. Blocking invokers do their work inside
// Invoke and are run on the engine worker pool. Non-blocking invokers are
// called on the tick goroutine and must return promptly.
type Invoker interface {
	Invoke(ctx context.Context, exec Execution) <-chan error
	Blocking() bool
}

// InvokerFunc is a blocking invoker.
type InvokerFunc func(ctx context.Context, exec Execution) error

func (f InvokerFunc) Invoke(ctx context.Context, exec Execution) <-chan error {
	ch := make(chan error, 1)
	ch <- f(ctx, exec)
	close(ch)
	return ch
}

func (InvokerFunc) Blocking() bool { return true }

// AsyncFunc is a non-blocking invoker.
type AsyncFunc func(ctx context.Context, exec Execution) <-chan error

func (f AsyncFunc) Invoke(ctx context.Context, exec Execution) <-chan error { return f(ctx, exec) }

func (AsyncFunc) Blocking() bool { return false }

// Delegate forwards to Next. Embed it to decorate an invoker while keeping
// its blocking mode.
type Delegate struct {
	Next Invoker
}

func (d Delegate) Invoke(ctx context.Context, exec Execution) <-chan error {
	return d.Next.Invoke(ctx, exec)
}

func (d Delegate) Blocking() bool { return d.Next.Blocking() }

// PanicError is the failure reported for caller code that panicked. Op
// names the hook: invoker, planner or skip predicate.
type PanicError struct {
	Op    string
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s panic: %v", e.Op, e.Value) }

func recovered(op string, r any) *PanicError {
	return &PanicError{Op: op, Value: r, Stack: string(debug.Stack())}
}

// invoke calls inv.Invoke and turns a panic into an error.
func invoke(ctx context.Context, inv Invoker, exec Execution) (ch <-chan error, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch, err = nil, recovered("invoker", r)
		}
	}()
	return inv.Invoke(ctx, exec), nil
}

// await returns the first result on ch. A nil or closed channel is success.
func await(ch <-chan error) error {
	if ch == nil {
		return nil
	}
	return <-ch
}
