package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/marcelocantos/msh/internal/audit"
	"github.com/marcelocantos/msh/internal/cap"
	mshcli "github.com/marcelocantos/msh/internal/cli"
	"github.com/marcelocantos/msh/internal/config"
	"github.com/marcelocantos/msh/internal/shell"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args))
}

// app carries the shell's descriptors into urfave/cli actions and the exit
// status back out.
type app struct {
	fs     afero.Fs
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	status int
}

func run(args []string) int {
	a := &app{fs: afero.NewOsFs(), stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := a.command().Run(context.Background(), args); err != nil {
		return mshcli.ExitCode(a.stderr, err)
	}
	return a.status
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:        "msh",
		Usage:       "A small interactive shell",
		Description: "msh runs pipelines of programs with redirections and background jobs.",
		Version:     version,
		Writer:      a.stdout,
		ErrWriter:   a.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "read configuration from `PATH`",
				Value: config.ConfigPath(),
			},
			&cli.StringFlag{
				Name:    "command",
				Aliases: []string{"c"},
				Usage:   "execute `LINE` and exit with its status",
			},
			&cli.BoolFlag{
				Name:  "norc",
				Usage: "do not source the startup file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "write debug output to stderr",
			},
			&cli.BoolFlag{
				Name:  "print-table",
				Usage: "print each pipeline's command table before running it",
			},
		},
		Commands: []*cli.Command{
			a.auditCommand(),
		},
		Action: a.shell,
	}
}

func (a *app) loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadFrom(a.fs, cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if cmd.Bool("print-table") {
		cfg.PrintTable = true
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	return cfg, nil
}

func (a *app) shell(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() > 0 {
		return fmt.Errorf("unexpected argument %q", cmd.Args().First())
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Debug {
		logger = log.New(a.stderr, "msh: ", log.Ltime|log.Lmicroseconds)
	}

	var journal *audit.Logger
	if cfg.Audit.Enabled {
		journal, err = audit.NewLogger(cfg.Audit.Path)
		if err != nil {
			// Run without the journal.
			fmt.Fprintf(a.stderr, "msh: journal: %v\n", err)
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	oneShot := cmd.IsSet("command")
	s := shell.New(shell.Options{
		Config:      cfg,
		Stdio:       cap.Stdio{In: a.stdin, Out: a.stdout, Err: a.stderr},
		Interactive: !oneShot && term.IsTerminal(int(a.stdin.Fd())),
		Journal:     journal,
		Log:         logger,
		FS:          a.fs,
	})
	stop := s.HandleSignals()
	defer stop()

	if cfg.Startup.Enabled && !cmd.Bool("norc") {
		if err := s.SourceFile(ctx, cfg.Startup.Path); err != nil {
			return err
		}
	}

	if oneShot {
		err = s.Execute(ctx, cmd.String("command"))
	} else {
		err = s.Run(ctx)
	}
	a.status = s.Status()
	return err
}

func (a *app) auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the execution journal",
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "Check the journal's hash chain",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := a.loadConfig(cmd)
					if err != nil {
						return err
					}
					a.status = mshcli.RunVerify(a.stdout, cfg.Audit.Path)
					return nil
				},
			},
			{
				Name:  "tail",
				Usage: "Print the most recent journal entries",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "lines",
						Aliases: []string{"n"},
						Usage:   "number of entries to print",
						Value:   20,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := a.loadConfig(cmd)
					if err != nil {
						return err
					}
					a.status = mshcli.RunTail(a.stdout, cfg.Audit.Path, int(cmd.Int("lines")))
					return nil
				},
			},
		},
	}
}
