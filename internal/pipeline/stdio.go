package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/marcelocantos/msh/internal/cap"
)

// redirectMode is the permission given to files created by redirection.
const redirectMode = 0o600

// streams holds the descriptors a pipeline run opened for itself: the
// duplicated defaults and any redirect files. close releases all of them.
type streams struct {
	defaults cap.Stdio
	in       *os.File // first stage's stdin
	out      *os.File // last stage's stdout
	err      *os.File // every stage's stderr
	opened   []*os.File
}

// openStreams duplicates the default descriptors and opens the redirect
// files. A redirect file that cannot be opened is reported on diag and its
// stream is left unbound. Only a failure to duplicate the defaults is
// returned as an error.
func openStreams(stdio cap.Stdio, r Redirects, diag io.Writer) (*streams, error) {
	defaults, err := cap.DupStdio(stdio)
	if err != nil {
		return nil, err
	}
	s := &streams{defaults: defaults}

	s.in = defaults.In
	if r.In != "" {
		s.in = s.open(r.In, os.O_RDONLY, diag)
	}

	s.out = defaults.Out
	writeFlags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if r.Append {
		writeFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	if r.Out != "" {
		s.out = s.open(r.Out, writeFlags, diag)
	}

	switch {
	case r.ErrToOut:
		s.err = s.out
	case r.Err != "":
		s.err = s.open(r.Err, writeFlags, diag)
	default:
		s.err = defaults.Err
	}
	return s, nil
}

func (s *streams) open(path string, flags int, diag io.Writer) *os.File {
	f, err := os.OpenFile(path, flags, redirectMode)
	if err != nil {
		fmt.Fprintf(diag, "msh: %v\n", err)
		return nil
	}
	s.opened = append(s.opened, f)
	return f
}

func (s *streams) close() {
	for _, f := range s.opened {
		f.Close()
	}
	s.opened = nil
	s.defaults.Close()
}
