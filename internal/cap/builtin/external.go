package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/jobs"
)

// External runs any command that has no in-shell implementation as a child
// process, looked up on PATH. It is installed as the registry fallback.
type External struct {
	reaper *jobs.Reaper
}

var _ cap.Capability = (*External)(nil)

// NewExternal creates the external launcher. Children are registered with
// reaper, which collects their exit status.
func NewExternal(reaper *jobs.Reaper) *External {
	return &External{reaper: reaper}
}

func (e *External) Name() string                 { return "external" }
func (e *External) Description() string          { return "run a program found on PATH" }
func (e *External) Mode() cap.Mode               { return cap.ModeExternal }
func (e *External) Validate(args []string) error { return nil }

// Start launches args[0]. The child inherits stdio directly; a nil stream
// is connected to the null device. Interrupting the shell never kills the
// child, so ctx only bounds the launch itself.
//
// A program that cannot be executed is reported and yields status 1. A
// failure to create the process at all is fatal to the shell.
func (e *External) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	if stdio.In != nil {
		cmd.Stdin = stdio.In
	}
	if stdio.Out != nil {
		cmd.Stdout = stdio.Out
	}
	if stdio.Err != nil {
		cmd.Stderr = stdio.Err
	}

	child, err := e.reaper.Spawn(func() (int, error) {
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		pid := cmd.Process.Pid
		// The reaper owns the wait; drop the runtime's handle.
		cmd.Process.Release()
		return pid, nil
	})
	if err != nil {
		if isForkFailure(err) {
			return nil, &cap.ExitError{Code: 2, Err: fmt.Errorf("%s: %w", args[0], err)}
		}
		fmt.Fprintf(stdio.Stderr(), "%s: cannot execute: %v\n", args[0], execCause(err))
		return cap.Done(1), nil
	}
	return child, nil
}

// isForkFailure reports whether err means no process could be created, as
// opposed to the program failing to load.
func isForkFailure(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

func execCause(err error) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return execErr.Err
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}
