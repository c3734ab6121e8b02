package builtin

import (
	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/jobs"
)

// RegisterAll adds all built-in capabilities to the registry and installs
// the external launcher as its fallback.
func RegisterAll(r *cap.Registry, reaper *jobs.Reaper) {
	r.Register(&Cd{})
	r.Register(&Help{})
	r.Register(NewJobs(reaper.Tracker()))
	r.Register(&Printenv{})
	r.Register(&Setenv{})
	r.Register(&Source{})
	r.Register(&Unsetenv{})
	r.SetFallback(NewExternal(reaper))
}
