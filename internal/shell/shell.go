// Package shell holds the interpreter's process-wide state and ties the
// parser, the execution engine, the job reaper and the signal handlers
// together.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"github.com/marcelocantos/msh/internal/audit"
	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/cap/builtin"
	"github.com/marcelocantos/msh/internal/config"
	"github.com/marcelocantos/msh/internal/jobs"
	"github.com/marcelocantos/msh/internal/pipeline"
)

// Options configures a Shell.
type Options struct {
	Config *config.Config
	// Stdio is the shell's own stdin, stdout and stderr.
	Stdio cap.Stdio
	// Interactive enables prompts.
	Interactive bool
	// Journal records every top-level pipeline. Nil disables it.
	Journal *audit.Logger
	// Log receives debug output. Nil discards it.
	Log *log.Logger
	// FS is where the startup and sourced files are read from. Nil means
	// the OS.
	FS afero.Fs
}

// Shell is the interpreter state shared by the main loop and the signal
// handlers.
type Shell struct {
	cfg      *config.Config
	stdio    cap.Stdio
	engine   *pipeline.Engine
	reaper   *jobs.Reaper
	registry *cap.Registry
	journal  *audit.Logger
	log      *log.Logger
	notice   *color.Color
	errColor *color.Color

	// current is reused for every pipeline so an interrupt can clear
	// whatever is in flight.
	current *pipeline.Pipeline

	mu          sync.Mutex
	cancel      context.CancelFunc // non-nil while a pipeline runs
	status      int
	lastBg      int
	lastArg     string
	sourcing    int
	interactive bool
	term        io.Writer
	emit        func(prompt string)
}

var _ pipeline.State = (*Shell)(nil)
var _ pipeline.Expander = (*Shell)(nil)

// New creates a shell with the builtins registered.
func New(opts Options) *Shell {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Shell{
		cfg:         cfg,
		stdio:       opts.Stdio,
		registry:    cap.NewRegistry(),
		journal:     opts.Journal,
		log:         logger,
		notice:      color.New(color.FgGreen),
		errColor:    color.New(color.FgRed),
		current:     pipeline.New(),
		lastBg:      -1,
		interactive: opts.Interactive,
		term:        opts.Stdio.Stdout(),
	}
	if !cfg.Color {
		s.notice.DisableColor()
		s.errColor.DisableColor()
	}
	s.emit = func(prompt string) { fmt.Fprint(s.terminal(), prompt) }

	s.reaper = jobs.NewReaper(nil, s.JobDone)
	builtin.RegisterAll(s.registry, s.reaper)

	s.engine = &pipeline.Engine{
		Registry: s.registry,
		Reaper:   s.reaper,
		State:    s,
		FS:       opts.FS,
		Expander: s,
		Log:      logger,
	}
	if cfg.PrintTable {
		s.engine.Table = opts.Stdio.Stderr()
	}
	return s
}

// Reaper returns the shell's child reaper.
func (s *Shell) Reaper() *jobs.Reaper { return s.reaper }

// Registry returns the command registry.
func (s *Shell) Registry() *cap.Registry { return s.registry }

// SetTerminal redirects prompts and job notices. emit displays a prompt;
// nil writes it to w.
func (s *Shell) SetTerminal(w io.Writer, emit func(prompt string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = w
	if emit == nil {
		emit = func(prompt string) { fmt.Fprint(s.terminal(), prompt) }
	}
	s.emit = emit
}

func (s *Shell) terminal() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// PromptString returns the current prompt text: $PROMPT if set, else the
// configured prompt.
func (s *Shell) PromptString() string {
	if p := os.Getenv("PROMPT"); p != "" {
		return p
	}
	return s.cfg.Prompt
}

// Prompt emits the prompt unless input is not interactive or a file is
// being sourced.
func (s *Shell) Prompt() {
	s.mu.Lock()
	suppressed := !s.interactive || s.sourcing > 0
	emit := s.emit
	s.mu.Unlock()
	if suppressed {
		return
	}
	emit(s.PromptString())
}

func (s *Shell) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Shell) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Shell) SetLastArgument(arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastArg = arg
}

// LastBackground returns the pid of the most recent background job, or -1.
func (s *Shell) LastBackground() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBg
}

func (s *Shell) SetLastBackground(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBg = pid
}

func (s *Shell) EnterSource() func() {
	s.mu.Lock()
	s.sourcing++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.sourcing--
			s.mu.Unlock()
		})
	}
}

// Lookup resolves $NAME for the parser, including the special parameters
// $?, $!, $$ and $_.
func (s *Shell) Lookup(name string) string {
	switch name {
	case "?":
		return strconv.Itoa(s.Status())
	case "!":
		if pid := s.LastBackground(); pid > 0 {
			return strconv.Itoa(pid)
		}
		return ""
	case "$":
		return strconv.Itoa(os.Getpid())
	case "_":
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastArg
	}
	return os.Getenv(name)
}

// JobDone reports a background job that has terminated. The prompt is
// left to the engine while a pipeline is in flight.
func (s *Shell) JobDone(pid, status int) {
	s.log.Printf("job %d exited with status %d", pid, status)
	s.notice.Fprintf(s.terminal(), "\n[%d] exited.\n", pid)

	s.mu.Lock()
	busy := s.cancel != nil
	s.mu.Unlock()
	if !busy {
		s.Prompt()
	}
}

// Interrupt abandons the pipeline in flight, if any. Children keep
// running; the prompt comes back at once when nothing was running.
func (s *Shell) Interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	fmt.Fprintln(s.terminal())
	if cancel == nil || s.current.Len() == 0 {
		s.Prompt()
	}
	if cancel != nil {
		cancel()
	}
	s.current.Clear()
}

func (s *Shell) begin(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

func (s *Shell) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
}

// Execute parses line and runs its pipelines in order. It returns a
// *cap.ExitError when the shell must terminate.
func (s *Shell) Execute(ctx context.Context, line string) error {
	script, err := pipeline.ParseLine(line)
	if err != nil {
		s.reportf("msh: %v\n", err)
		s.record(audit.Record{Pipeline: line, ExitCode: s.Status(), Error: err.Error()}, time.Time{})
		s.Prompt()
		return nil
	}
	if script.Len() == 0 {
		s.current.Clear()
		return s.engine.Execute(ctx, s.current, s.stdio)
	}
	return s.runScript(ctx, script, "")
}

// SourceFile runs the commands in path as if they had been typed, without
// prompts. A missing file is ignored.
func (s *Shell) SourceFile(ctx context.Context, path string) error {
	fs := s.engine.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	script, err := pipeline.ParseFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Printf("no startup file %s", path)
			return nil
		}
		s.reportf("msh: %s: %v\n", path, err)
		return nil
	}
	leave := s.EnterSource()
	defer leave()
	return s.runScript(ctx, script, path)
}

func (s *Shell) runScript(ctx context.Context, script *pipeline.Script, origin string) error {
	for i := 0; i < script.Len(); i++ {
		pctx, cancel := context.WithCancel(ctx)
		s.begin(cancel)

		if err := script.Fill(i, s.current, s); err != nil {
			s.end()
			cancel()
			if origin != "" {
				s.reportf("msh: %s: %v\n", origin, err)
			} else {
				s.reportf("msh: %v\n", err)
			}
			s.Prompt()
			continue
		}

		rec := audit.Record{
			Pipeline:   s.current.String(),
			Stages:     s.current.Names(),
			Background: s.current.Background(),
		}
		prevBg := s.LastBackground()
		start := time.Now()
		err := s.engine.Execute(pctx, s.current, s.stdio)
		interrupted := pctx.Err() != nil
		s.end()
		cancel()

		rec.ExitCode = s.Status()
		// A builtin run with & launches no child and leaves $! alone.
		if pid := s.LastBackground(); rec.Background && pid > 0 && pid != prevBg {
			rec.Pid = pid
		}
		if err != nil {
			var exitErr *cap.ExitError
			if errors.As(err, &exitErr) {
				rec.ExitCode = exitErr.Code
			}
			rec.Error = err.Error()
		}
		s.record(rec, start)

		if err != nil {
			return err
		}
		if interrupted {
			s.log.Printf("interrupted; skipping %d remaining pipelines", script.Len()-i-1)
			return nil
		}
	}
	return nil
}

func (s *Shell) reportf(format string, args ...any) {
	s.errColor.Fprintf(s.stdio.Stderr(), format, args...)
}

func (s *Shell) record(rec audit.Record, start time.Time) {
	if s.journal == nil {
		return
	}
	if !start.IsZero() {
		rec.Duration = time.Since(start)
	}
	rec.Cwd, _ = os.Getwd()
	if err := s.journal.Log(rec); err != nil {
		s.log.Printf("journal: %v", err)
	}
}
