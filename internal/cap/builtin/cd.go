package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/marcelocantos/msh/internal/cap"
)

// Cd changes the shell's working directory.
type Cd struct{}

var _ cap.Capability = (*Cd)(nil)

func (c *Cd) Name() string        { return "cd" }
func (c *Cd) Description() string { return "change the working directory (default $HOME)" }
func (c *Cd) Mode() cap.Mode      { return cap.ModeBuiltin }

func (c *Cd) Validate(args []string) error {
	if len(args) > 2 {
		return cap.Usagef("too many arguments")
	}
	return nil
}

func (c *Cd) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	dir := os.Getenv("HOME")
	if len(args) > 1 {
		dir = args[1]
	}

	prev, _ := os.Getwd()
	if dir == "" || os.Chdir(dir) != nil {
		fmt.Fprintf(stdio.Stderr(), "cd: can't cd to %s\n", dir)
		return cap.Done(1), nil
	}

	if prev != "" {
		os.Setenv("OLDPWD", prev)
	}
	if wd, err := os.Getwd(); err == nil {
		os.Setenv("PWD", wd)
	}
	return cap.Done(0), nil
}
