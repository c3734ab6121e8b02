package builtin

import (
	"context"
	"fmt"

	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/jobs"
)

// Jobs lists the background processes that have not yet been reaped.
type Jobs struct {
	tracker *jobs.Tracker
}

var _ cap.Capability = (*Jobs)(nil)

// NewJobs creates the jobs builtin over tracker.
func NewJobs(tracker *jobs.Tracker) *Jobs {
	return &Jobs{tracker: tracker}
}

func (j *Jobs) Name() string                 { return "jobs" }
func (j *Jobs) Description() string          { return "list running background processes" }
func (j *Jobs) Mode() cap.Mode               { return cap.ModeBuiltin }
func (j *Jobs) Validate(args []string) error { return nil }

func (j *Jobs) Start(ctx context.Context, args []string, stdio cap.Stdio) (cap.Process, error) {
	w := stdio.Stdout()
	for _, pid := range j.tracker.List() {
		fmt.Fprintf(w, "[%d] running\n", pid)
	}
	return cap.Done(0), nil
}
