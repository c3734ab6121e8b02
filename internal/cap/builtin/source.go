package builtin

import (
	"context"
	"errors"

	"github.com/marcelocantos/msh/internal/cap"
)

// Source runs the commands of a file in place of the remaining stages of
// the current pipeline.
type Source struct{}

var _ cap.Capability = (*Source)(nil)

func (s *Source) Name() string        { return "source" }
func (s *Source) Description() string { return "run the commands in FILE" }
func (s *Source) Mode() cap.Mode      { return cap.ModeBuiltin }

func (s *Source) Validate(args []string) error {
	if len(args) != 2 {
		return &cap.UsageError{Msg: "requires one argument", Abort: true}
	}
	return nil
}

func (s *Source) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	src, ok := cap.SourcerFromContext(ctx)
	if !ok {
		return nil, errors.New("source: not available here")
	}
	status, err := src.Source(ctx, args[1], stdio)
	if err != nil {
		return nil, err
	}
	return cap.Done(status), nil
}
