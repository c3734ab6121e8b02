package cap

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Stdio is the set of descriptors bound to one stage. A nil file means the
// stream is not connected.
type Stdio struct {
	In  *os.File
	Out *os.File
	Err *os.File
}

// Stdout returns the stage's output as a writer, discarding when unbound.
func (s Stdio) Stdout() io.Writer {
	if s.Out == nil {
		return io.Discard
	}
	return s.Out
}

// Stderr returns the stage's error stream as a writer, discarding when unbound.
func (s Stdio) Stderr() io.Writer {
	if s.Err == nil {
		return io.Discard
	}
	return s.Err
}

// Dup returns a new descriptor for the same open file. A nil f yields nil.
func Dup(f *os.File) (*os.File, error) {
	if f == nil {
		return nil, nil
	}
	// The copy is close-on-exec from birth, so a concurrent fork never
	// inherits it.
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "dup", Path: f.Name(), Err: err}
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// DupStdio duplicates every descriptor in s. On error the copies made so
// far are closed.
func DupStdio(s Stdio) (Stdio, error) {
	var out Stdio
	var err error
	if out.In, err = Dup(s.In); err != nil {
		return Stdio{}, err
	}
	if out.Out, err = Dup(s.Out); err != nil {
		out.Close()
		return Stdio{}, err
	}
	if out.Err, err = Dup(s.Err); err != nil {
		out.Close()
		return Stdio{}, err
	}
	return out, nil
}

// Close closes every bound descriptor.
func (s Stdio) Close() {
	for _, f := range []*os.File{s.In, s.Out, s.Err} {
		if f != nil {
			f.Close()
		}
	}
}
