package pipeline

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// SimpleCommand is one stage of a pipeline: a program name followed by its
// arguments.
type SimpleCommand struct {
	args []string
}

// NewSimpleCommand builds a stage from its argument vector. args[0] is the
// program name.
func NewSimpleCommand(args ...string) (SimpleCommand, error) {
	if len(args) == 0 {
		return SimpleCommand{}, errors.New("empty command")
	}
	return SimpleCommand{args: append([]string(nil), args...)}, nil
}

// Args returns a copy of the argument vector, program name included.
func (c SimpleCommand) Args() []string {
	return append([]string(nil), c.args...)
}

// Name returns the program name.
func (c SimpleCommand) Name() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[0]
}

// LastArg returns the final argument, or the program name when there are no
// arguments.
func (c SimpleCommand) LastArg() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[len(c.args)-1]
}

func (c SimpleCommand) String() string {
	return strings.Join(c.args, " ")
}

// Redirects holds the file destinations of a pipeline. An empty path means
// the stream is not redirected.
type Redirects struct {
	In  string // stdin of the first stage
	Out string // stdout of the last stage
	Err string // stderr of every stage

	// ErrToOut sends stderr wherever stdout of the last stage goes.
	ErrToOut bool
	// Append opens Out and Err for appending instead of truncating.
	Append bool
}

// Pipeline is a sequence of stages connected stdout to stdin, with optional
// redirection and background execution. It is safe for concurrent use so an
// interrupt can clear it while it is being run.
type Pipeline struct {
	mu         sync.Mutex
	stages     []SimpleCommand
	redirects  Redirects
	background bool
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// AddStage appends a stage.
func (p *Pipeline) AddStage(c SimpleCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, c)
}

// Stages returns a snapshot of the stages.
func (p *Pipeline) Stages() []SimpleCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SimpleCommand(nil), p.stages...)
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stages)
}

func (p *Pipeline) Redirects() Redirects {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redirects
}

func (p *Pipeline) SetRedirects(r Redirects) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirects = r
}

func (p *Pipeline) Background() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background
}

func (p *Pipeline) SetBackground(b bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.background = b
}

// Clear resets the pipeline to the empty state. It may be called any number
// of times.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = nil
	p.redirects = Redirects{}
	p.background = false
}

// Names returns the program name of every stage.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// String renders the pipeline as a command line.
func (p *Pipeline) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		parts[i] = s.String()
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, " | "))

	r := p.redirects
	if r.In != "" {
		fmt.Fprintf(&b, " < %s", r.In)
	}
	op := ">"
	if r.Append {
		op = ">>"
	}
	switch {
	case r.Out != "" && r.ErrToOut:
		fmt.Fprintf(&b, " &%s %s", op, r.Out)
	case r.Out != "":
		fmt.Fprintf(&b, " %s %s", op, r.Out)
	case r.ErrToOut:
		b.WriteString(" 2>&1")
	}
	if r.Err != "" {
		fmt.Fprintf(&b, " 2%s %s", op, r.Err)
	}
	if p.background {
		b.WriteString(" &")
	}
	return b.String()
}

// Print writes the pipeline's command table.
func (p *Pipeline) Print(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(w, "\n\n")
	fmt.Fprint(w, "              COMMAND TABLE                \n")
	fmt.Fprint(w, "\n")
	fmt.Fprint(w, "  #   Simple Commands\n")
	fmt.Fprint(w, "  --- ----------------------------------------------------------\n")
	for i, s := range p.stages {
		fmt.Fprintf(w, "  %-3d ", i)
		for _, a := range s.args {
			fmt.Fprintf(w, "%q ", a)
		}
		fmt.Fprint(w, "\n")
	}

	r := p.redirects
	errDest := orDefault(r.Err)
	if r.ErrToOut {
		errDest = orDefault(r.Out)
	}
	bg := "NO"
	if p.background {
		bg = "YES"
	}

	fmt.Fprint(w, "\n\n")
	fmt.Fprint(w, "  Output       Input        Error        Background\n")
	fmt.Fprint(w, "  ------------ ------------ ------------ ------------\n")
	fmt.Fprintf(w, "  %-12s %-12s %-12s %-12s\n", orDefault(r.Out), orDefault(r.In), errDest, bg)
	fmt.Fprint(w, "\n\n")
}

func orDefault(path string) string {
	if path == "" {
		return "default"
	}
	return path
}
