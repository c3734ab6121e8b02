// Package jobs tracks background processes and reaps terminated children.
package jobs

import (
	"fmt"
	"sync"
)

// Tracker is the ordered list of live background process ids. Launch order
// is preserved; each id appears at most once.
type Tracker struct {
	mu   sync.Mutex
	pids []int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add appends pid. It fails if pid is already tracked.
func (t *Tracker) Add(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pids {
		if p == pid {
			return fmt.Errorf("pid %d already tracked", pid)
		}
	}
	t.pids = append(t.pids, pid)
	return nil
}

// Remove drops pid and reports whether it was tracked.
func (t *Tracker) Remove(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pids {
		if p == pid {
			t.pids = append(t.pids[:i], t.pids[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether pid is tracked.
func (t *Tracker) Contains(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pids {
		if p == pid {
			return true
		}
	}
	return false
}

// List returns the tracked pids in launch order.
func (t *Tracker) List() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.pids))
	copy(out, t.pids)
	return out
}

// Len returns the number of tracked pids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pids)
}
