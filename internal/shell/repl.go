package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
)

// Run reads and executes lines until end of input or a command ends the
// shell. Interactive shells read through a line editor with history; others
// read stdin line by line without prompting.
func (s *Shell) Run(ctx context.Context) error {
	if s.interactive {
		return s.runInteractive(ctx)
	}
	var in io.Reader = os.Stdin
	if s.stdio.In != nil {
		in = s.stdio.In
	}
	return s.RunReader(ctx, in)
}

// RunReader executes every line read from r.
func (s *Shell) RunReader(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := s.Execute(ctx, sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *Shell) runInteractive(ctx context.Context) error {
	if dir := filepath.Dir(s.cfg.History.Path); s.cfg.History.Path != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			s.log.Printf("history: %v", err)
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.PromptString(),
		HistoryFile:     s.cfg.History.Path,
		HistoryLimit:    s.cfg.History.Limit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	s.SetTerminal(rl.Stdout(), func(prompt string) {
		rl.SetPrompt(prompt)
		rl.Refresh()
	})
	defer s.SetTerminal(s.stdio.Stdout(), nil)

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			// Ctrl-C at the prompt discards the line.
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if err := s.Execute(ctx, line); err != nil {
			return err
		}
	}
}
