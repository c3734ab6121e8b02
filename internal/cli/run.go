package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/marcelocantos/msh/internal/cap"
)

// ExitCode maps the error that ended a shell session to a process exit
// code. An ExitError carries its own code and is reported only when it
// wraps a cause. Anything else is reported and exits with 2.
func ExitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *cap.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(w, "msh: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(w, "msh: %v\n", err)
	return 2
}
