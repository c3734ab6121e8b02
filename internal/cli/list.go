package cli

import (
	"fmt"
	"io"

	"github.com/marcelocantos/msh/internal/cap"
)

// RunList lists the commands the shell runs itself, optionally only those of
// one mode.
func RunList(reg *cap.Registry, w io.Writer, modeFilter string) int {
	caps := reg.All()

	var filter *cap.Mode
	if modeFilter != "" {
		m, err := cap.ParseMode(modeFilter)
		if err != nil {
			fmt.Fprintf(w, "help: %v\n", err)
			return 1
		}
		filter = &m
	}

	for _, c := range caps {
		if filter != nil && c.Mode() != *filter {
			continue
		}
		fmt.Fprintf(w, "%-12s %-10s %s\n", c.Name(), c.Mode(), c.Description())
	}
	return 0
}
