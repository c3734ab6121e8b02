package cap

import (
	"context"
	"fmt"
)

// Process is a launched stage.
type Process interface {
	// Pid returns the OS process id, or 0 when the stage runs inside the shell.
	Pid() int

	// Wait blocks until the stage finishes and returns its exit status.
	// It may be called once. Cancelling ctx abandons the wait without
	// stopping the stage.
	Wait(ctx context.Context) (int, error)

	// Release tells the launcher that nobody will wait for this stage.
	Release()
}

// ExitError asks the shell to terminate with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// UsageError is a builtin invocation error. It is reported as
// "name: Msg" and sets status 1. Abort also drops the remaining stages of
// the pipeline.
type UsageError struct {
	Msg   string
	Abort bool
}

func (e *UsageError) Error() string { return e.Msg }

// Usagef returns a *UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

type done int

// Done returns a Process that has already exited with status.
func Done(status int) Process { return done(status) }

func (d done) Pid() int                          { return 0 }
func (d done) Wait(context.Context) (int, error) { return int(d), nil }
func (d done) Release()                          {}

type task struct {
	done   chan struct{}
	status int
}

// Go runs fn on its own goroutine and returns a Process whose status is
// fn's return value.
func Go(fn func() int) Process {
	t := &task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.status = fn()
	}()
	return t
}

func (t *task) Pid() int { return 0 }

func (t *task) Wait(ctx context.Context) (int, error) {
	select {
	case <-t.done:
		return t.status, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (t *task) Release() {}
