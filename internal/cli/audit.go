package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/marcelocantos/msh/internal/audit"
)

// RunVerify checks the journal's hash chain.
func RunVerify(w io.Writer, logPath string) int {
	if err := audit.Verify(logPath); err != nil {
		fmt.Fprintf(w, "journal verification FAILED: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, "journal integrity verified")
	return 0
}

// RunTail prints the last n journal entries.
func RunTail(w io.Writer, logPath string, n int) int {
	if n <= 0 {
		n = 20
	}
	entries, err := audit.Tail(logPath, n)
	if err != nil {
		fmt.Fprintf(w, "msh audit: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no journal entries")
		return 0
	}
	for _, e := range entries {
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintf(w, "%s\n", data)
	}
	return 0
}
