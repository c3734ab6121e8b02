package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/marcelocantos/msh/internal/cap"
)

// Setenv sets an environment variable for the shell and its children.
type Setenv struct{}

var _ cap.Capability = (*Setenv)(nil)

func (s *Setenv) Name() string        { return "setenv" }
func (s *Setenv) Description() string { return "set an environment variable: setenv NAME VALUE" }
func (s *Setenv) Mode() cap.Mode      { return cap.ModeBuiltin }

func (s *Setenv) Validate(args []string) error {
	if len(args) != 3 {
		return cap.Usagef("requires two arguments")
	}
	return nil
}

func (s *Setenv) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	if err := os.Setenv(args[1], args[2]); err != nil {
		fmt.Fprintf(stdio.Stderr(), "setenv: %v\n", err)
		return cap.Done(1), nil
	}
	return cap.Done(0), nil
}

// Unsetenv removes an environment variable.
type Unsetenv struct{}

var _ cap.Capability = (*Unsetenv)(nil)

func (u *Unsetenv) Name() string        { return "unsetenv" }
func (u *Unsetenv) Description() string { return "remove an environment variable: unsetenv NAME" }
func (u *Unsetenv) Mode() cap.Mode      { return cap.ModeBuiltin }

func (u *Unsetenv) Validate(args []string) error {
	if len(args) != 2 {
		return cap.Usagef("requires one argument")
	}
	return nil
}

func (u *Unsetenv) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	if err := os.Unsetenv(args[1]); err != nil {
		fmt.Fprintf(stdio.Stderr(), "unsetenv: %v\n", err)
		return cap.Done(1), nil
	}
	return cap.Done(0), nil
}

// Printenv writes every environment entry as KEY=VALUE. It runs alongside
// the rest of the pipeline so a downstream stage can consume its output.
type Printenv struct{}

var _ cap.Capability = (*Printenv)(nil)

func (p *Printenv) Name() string                 { return "printenv" }
func (p *Printenv) Description() string          { return "print the environment" }
func (p *Printenv) Mode() cap.Mode               { return cap.ModeTask }
func (p *Printenv) Validate(args []string) error { return nil }

func (p *Printenv) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	// The caller closes stdio once Start returns; keep our own copy of the
	// output so the reader sees EOF only when we are done.
	out, err := cap.Dup(stdio.Out)
	if err != nil {
		fmt.Fprintf(stdio.Stderr(), "printenv: %v\n", err)
		return cap.Done(1), nil
	}
	env := os.Environ()
	return cap.Go(func() int {
		if out == nil {
			return 0
		}
		defer out.Close()
		for _, kv := range env {
			if _, err := fmt.Fprintln(out, kv); err != nil {
				return 1
			}
		}
		return 0
	}), nil
}
