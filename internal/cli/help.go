package cli

import (
	"fmt"
	"io"

	"github.com/marcelocantos/msh/internal/cap"
)

// RunHelp shows help for one command, for every command of a mode, or for
// the whole shell.
func RunHelp(reg *cap.Registry, w io.Writer, args []string) int {
	if len(args) == 0 {
		printGeneralHelp(w)
		return RunList(reg, w, "")
	}

	name := args[0]
	if _, err := cap.ParseMode(name); err == nil {
		return RunList(reg, w, name)
	}
	if name == "exit" {
		fmt.Fprintln(w, "exit — leave the shell")
		return 0
	}

	c, err := reg.Lookup(name)
	if err != nil {
		fmt.Fprintf(w, "help: %v\n", err)
		return 1
	}
	if c.Mode() == cap.ModeExternal {
		fmt.Fprintf(w, "%s is not a builtin; it runs from PATH\n", name)
		return 0
	}

	fmt.Fprintf(w, "%s — %s\n", c.Name(), c.Description())
	fmt.Fprintf(w, "mode: %s\n", c.Mode())
	return 0
}

func printGeneralHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands are separated by ';' or newlines and joined by '|'.
Redirections: < file, > file, >> file, 2> file, 2>> file, &> file, &>> file, 2>&1.
A trailing '&' runs the pipeline in the background.

Builtins:
exit         builtin    leave the shell`)
}
