package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/jobs"
)

// ExitCommand ends the shell. It is handled before any stage is launched.
const ExitCommand = "exit"

// State is the shell state the engine reads and updates.
type State interface {
	// Prompt emits the next prompt, unless prompts are suppressed.
	Prompt()
	Status() int
	SetStatus(status int)
	SetLastArgument(arg string)
	SetLastBackground(pid int)
	// EnterSource suppresses prompts until the returned func is called.
	EnterSource() (leave func())
}

// Engine runs pipelines.
type Engine struct {
	Registry *cap.Registry
	Reaper   *jobs.Reaper
	State    State

	// FS is where sourced files are read from. Nil means the OS.
	FS afero.Fs
	// Expander resolves variables in sourced files. Nil means the
	// process environment.
	Expander Expander
	// Table, when set, receives each pipeline's command table before it runs.
	Table io.Writer
	// Log receives debug output. Nil discards it.
	Log *log.Logger
}

func (e *Engine) fs() afero.Fs {
	if e.FS == nil {
		return afero.NewOsFs()
	}
	return e.FS
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}

// Execute runs p with stdio as the default descriptors and clears p when
// done. The caller keeps ownership of stdio.
//
// The returned error is non-nil only when the shell must terminate; it is
// then a *cap.ExitError. Cancelling ctx stops launching further stages and
// abandons the wait for the foreground process, which keeps running.
func (e *Engine) Execute(ctx context.Context, p *Pipeline, stdio cap.Stdio) error {
	stages := p.Stages()
	if len(stages) == 0 {
		e.State.Prompt()
		return nil
	}
	if stages[0].Name() == ExitCommand {
		fmt.Fprintln(stdio.Stdout(), "Good Bye!!")
		p.Clear()
		return &cap.ExitError{Code: 0}
	}

	redirs := p.Redirects()
	bg := p.Background()
	if e.Table != nil {
		p.Print(e.Table)
	}
	e.logf("execute %q", p.String())

	r := &run{engine: e, background: bg}
	err := r.launch(ctx, stages, redirs, stdio)
	if err != nil {
		if r.last != nil {
			r.last.Release()
		}
		p.Clear()
		return err
	}
	r.finish(ctx, stdio)

	p.Clear()
	e.State.Prompt()
	return nil
}

// run is the state of one Execute call.
type run struct {
	engine     *Engine
	background bool
	last       cap.Process // last launched external child or task
	statusSet  bool
	replaced   bool // source replaced the remaining stages
}

var _ cap.Sourcer = (*run)(nil)

func (r *run) setStatus(status int) {
	if r.background {
		return
	}
	r.statusSet = true
	r.engine.State.SetStatus(status)
}

func (r *run) launch(ctx context.Context, stages []SimpleCommand, redirs Redirects, stdio cap.Stdio) error {
	e := r.engine
	s, err := openStreams(stdio, redirs, stdio.Stderr())
	if err != nil {
		return &cap.ExitError{Code: 2, Err: err}
	}
	defer s.close()

	ctx = cap.NewContext(ctx, e.Registry)
	ctx = cap.NewSourcerContext(ctx, r)

	diag := cap.Stdio{Err: s.err}.Stderr()
	in := s.in
	var pipeIn *os.File // read end of the previous stage's pipe
	defer func() {
		if pipeIn != nil {
			pipeIn.Close()
		}
	}()

	for i, st := range stages {
		if ctx.Err() != nil {
			e.logf("interrupted before stage %d", i)
			return nil
		}
		e.State.SetLastArgument(st.LastArg())

		var out, next *os.File
		if i == len(stages)-1 {
			out = s.out
		} else {
			pr, pw, err := os.Pipe()
			if err != nil {
				return &cap.ExitError{Code: 2, Err: fmt.Errorf("pipe: %w", err)}
			}
			out, next = pw, pr
		}

		c, proc, err := r.dispatch(ctx, st, cap.Stdio{In: in, Out: out, Err: s.err})

		// The stage holds its own copies now.
		if pipeIn != nil {
			pipeIn.Close()
			pipeIn = nil
		}
		if next != nil {
			out.Close()
			pipeIn = next
		}
		in = next

		if err != nil {
			var usage *cap.UsageError
			var exit *cap.ExitError
			switch {
			case errors.As(err, &exit):
				return exit
			case errors.As(err, &usage):
				fmt.Fprintf(diag, "%s: %s\n", st.Name(), usage.Msg)
				r.setStatus(1)
				if usage.Abort {
					return nil
				}
			default:
				fmt.Fprintf(diag, "%s: %v\n", st.Name(), err)
				r.setStatus(1)
			}
			continue
		}

		if c.Mode() == cap.ModeBuiltin && proc.Pid() == 0 {
			status, _ := proc.Wait(ctx)
			r.setStatus(status)
		} else {
			if r.last != nil {
				r.last.Release()
			}
			r.last = proc
		}

		if r.replaced {
			e.logf("stages after %d replaced by source", i)
			return nil
		}
	}
	return nil
}

func (r *run) dispatch(ctx context.Context, st SimpleCommand, stdio cap.Stdio) (cap.Capability, cap.Process, error) {
	args := st.Args()
	c, err := r.engine.Registry.Lookup(args[0])
	if err != nil {
		return nil, nil, err
	}
	if err := c.Validate(args); err != nil {
		return c, nil, err
	}
	proc, err := c.Start(ctx, args, stdio)
	if err != nil {
		return c, nil, err
	}
	return c, proc, nil
}

// finish waits for the foreground process, or hands a background one to
// the job tracker.
func (r *run) finish(ctx context.Context, stdio cap.Stdio) {
	e := r.engine
	if r.last != nil {
		if r.background {
			if child, ok := r.last.(*jobs.Child); ok {
				if err := e.Reaper.Background(child); err != nil {
					e.logf("background %d: %v", child.Pid(), err)
				}
				e.State.SetLastBackground(child.Pid())
			} else {
				r.last.Release()
			}
		} else {
			status, err := r.last.Wait(ctx)
			if err != nil {
				e.logf("wait abandoned: %v", err)
			} else {
				r.setStatus(status)
			}
		}
	}

	if r.statusSet && e.State.Status() != 0 {
		if msg := os.Getenv("ON_ERROR"); msg != "" {
			fmt.Fprintln(stdio.Stdout(), msg)
		}
	}
}

// Source implements cap.Sourcer for the source builtin.
func (r *run) Source(ctx context.Context, path string, stdio cap.Stdio) (int, error) {
	r.replaced = true
	return r.engine.Source(ctx, path, stdio)
}

// Source runs every pipeline in the file at path with stdio as the default
// descriptors. Prompts are suppressed meanwhile. It returns the status of
// the last pipeline; the error is a *cap.UsageError when the file cannot be
// read, or a *cap.ExitError when a sourced command ends the shell.
func (e *Engine) Source(ctx context.Context, path string, stdio cap.Stdio) (int, error) {
	script, err := ParseFile(e.fs(), path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 1, &cap.UsageError{Msg: "file not found", Abort: true}
		}
		return 1, &cap.UsageError{Msg: err.Error(), Abort: true}
	}

	leave := e.State.EnterSource()
	defer leave()

	e.logf("source %s: %d pipelines", path, script.Len())
	p := New()
	for i := 0; i < script.Len(); i++ {
		if ctx.Err() != nil {
			break
		}
		if err := script.Fill(i, p, e.Expander); err != nil {
			fmt.Fprintf(stdio.Stderr(), "%s: %v\n", path, err)
			e.State.SetStatus(1)
			continue
		}
		if err := e.Execute(ctx, p, stdio); err != nil {
			return 0, err
		}
	}
	return e.State.Status(), nil
}
