package cap

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Mode says how a capability runs a pipeline stage.
type Mode int

const (
	ModeBuiltin  Mode = iota // runs to completion inside the shell (cd, setenv)
	ModeTask                 // runs inside the shell alongside later stages (printenv)
	ModeExternal             // runs as a child process
)

func (m Mode) String() string {
	switch m {
	case ModeBuiltin:
		return "builtin"
	case ModeTask:
		return "task"
	case ModeExternal:
		return "external"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "builtin":
		return ModeBuiltin, nil
	case "task":
		return ModeTask, nil
	case "external":
		return ModeExternal, nil
	default:
		return 0, fmt.Errorf("unknown mode: %q", s)
	}
}

// Capability is the interface every stage launcher must implement.
// args always includes the program name as args[0].
type Capability interface {
	// Name returns the command name used in pipelines.
	Name() string

	// Description returns a human-readable summary for help output.
	Description() string

	// Mode returns how the stage runs.
	Mode() Mode

	// Validate checks args before launch. A *UsageError is reported and
	// sets status 1.
	Validate(args []string) error

	// Start launches the stage with the given descriptors. Builtins return
	// an already finished Process. The caller keeps ownership of stdio and
	// may close it as soon as Start returns.
	Start(ctx context.Context, args []string, stdio Stdio) (Process, error)
}

// Registry maps command names to implementations. Names without a
// registration resolve to the fallback, which launches external programs.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]Capability
	fallback Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]Capability),
	}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

// SetFallback sets the capability used for unregistered names.
func (r *Registry) SetFallback(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// Lookup returns a capability by name.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.caps[name]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("unknown command: %q", name)
}

// All returns all registered capabilities sorted by name. The fallback is
// not included.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool {
		return caps[i].Name() < caps[j].Name()
	})
	return caps
}

type contextKey struct{}

// NewContext returns a context with the registry attached.
func NewContext(ctx context.Context, reg *Registry) context.Context {
	return context.WithValue(ctx, contextKey{}, reg)
}

// RegistryFromContext retrieves the registry from a context.
func RegistryFromContext(ctx context.Context) (*Registry, bool) {
	reg, ok := ctx.Value(contextKey{}).(*Registry)
	return reg, ok
}

// Sourcer executes the pipelines of a file in place of the remaining stages
// of the running pipeline and returns the status of the last one.
type Sourcer interface {
	Source(ctx context.Context, path string, stdio Stdio) (int, error)
}

type sourcerKey struct{}

// NewSourcerContext returns a context carrying the running pipeline's Sourcer.
func NewSourcerContext(ctx context.Context, s Sourcer) context.Context {
	return context.WithValue(ctx, sourcerKey{}, s)
}

// SourcerFromContext retrieves the Sourcer from a context.
func SourcerFromContext(ctx context.Context) (Sourcer, bool) {
	s, ok := ctx.Value(sourcerKey{}).(Sourcer)
	return s, ok
}
