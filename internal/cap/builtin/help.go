package builtin

import (
	"context"
	"errors"

	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/cli"
)

// Help describes the shell's own commands.
type Help struct{}

var _ cap.Capability = (*Help)(nil)

func (h *Help) Name() string        { return "help" }
func (h *Help) Description() string { return "describe builtins: help [NAME|builtin|task]" }
func (h *Help) Mode() cap.Mode      { return cap.ModeBuiltin }

func (h *Help) Validate(args []string) error {
	if len(args) > 2 {
		return cap.Usagef("too many arguments")
	}
	return nil
}

func (h *Help) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	reg, ok := cap.RegistryFromContext(ctx)
	if !ok {
		return nil, errors.New("help: no registry")
	}
	return cap.Done(cli.RunHelp(reg, stdio.Stdout(), args[1:])), nil
}
