package audit

import (
	"errors"
	"fmt"
	"time"
)

// Entry is one journal line: a top-level pipeline the shell ran.
type Entry struct {
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"ts"`
	PrevHash   string    `json:"prev_hash"`
	Pipeline   string    `json:"pipeline"`             // command line as run
	Stages     []string  `json:"stages"`               // program name of each stage
	Background bool      `json:"background,omitempty"` // true if run with &
	Pid        int       `json:"pid,omitempty"`        // background process id
	ExitCode   int       `json:"exit_code"`            // $? after the pipeline
	Error      string    `json:"error,omitempty"`      // parse or fatal error
	Duration   float64   `json:"duration_ms"`          // execution time in milliseconds
	Cwd        string    `json:"cwd"`                  // working directory
	Hash       string    `json:"hash"`                 // SHA-256 of this entry (with hash field empty)
}

// Record is what the shell reports about a pipeline it ran.
type Record struct {
	Pipeline   string
	Stages     []string
	Background bool
	Pid        int
	ExitCode   int
	Error      string
	Duration   time.Duration
	Cwd        string
}

// maxStatus is the largest status a pipeline can leave in $?.
const maxStatus = 255

var (
	ErrNoPipeline    = errors.New("empty pipeline")
	ErrNoStages      = errors.New("no stages and no error")
	ErrStrayPid      = errors.New("pid on a foreground pipeline")
	ErrStatusRange   = errors.New("exit code out of range")
	ErrNegativeValue = errors.New("negative pid or duration")
)

// Check reports whether e describes a pipeline the shell could have run.
// A pipeline that failed to parse has no stages but carries its error; a
// pid belongs only to a background pipeline that launched a child.
func (e Entry) Check() error {
	switch {
	case e.Pipeline == "":
		return ErrNoPipeline
	case len(e.Stages) == 0 && e.Error == "":
		return ErrNoStages
	case e.Pid < 0 || e.Duration < 0:
		return ErrNegativeValue
	case e.Pid > 0 && !e.Background:
		return fmt.Errorf("%w: %d", ErrStrayPid, e.Pid)
	case e.ExitCode < 0 || e.ExitCode > maxStatus:
		return fmt.Errorf("%w: %d", ErrStatusRange, e.ExitCode)
	}
	return nil
}

func (r Record) entry() Entry {
	return Entry{
		Pipeline:   r.Pipeline,
		Stages:     r.Stages,
		Background: r.Background,
		Pid:        r.Pid,
		ExitCode:   r.ExitCode,
		Error:      r.Error,
		Duration:   float64(r.Duration.Microseconds()) / 1000.0,
		Cwd:        r.Cwd,
	}
}
