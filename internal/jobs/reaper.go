package jobs

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"
)

// NotifyFunc reports a tracked background process that has terminated.
type NotifyFunc func(pid, status int)

// Reaper collects the exit status of every child the shell creates. Reap is
// driven by SIGCHLD; it never blocks.
//
// Each child is registered under the reaper lock in the same critical
// section that creates it, and statuses are dispatched under that lock, so
// a child that exits before its creator returns is still delivered.
type Reaper struct {
	mu      sync.Mutex
	waiters map[int]*Child
	tracker *Tracker
	notify  NotifyFunc
}

// NewReaper creates a reaper that reports finished background jobs through
// notify. A nil tracker gets a fresh one.
func NewReaper(tracker *Tracker, notify NotifyFunc) *Reaper {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Reaper{
		waiters: make(map[int]*Child),
		tracker: tracker,
		notify:  notify,
	}
}

// Tracker returns the background job list.
func (r *Reaper) Tracker() *Tracker {
	return r.tracker
}

// SetNotify replaces the background completion hook.
func (r *Reaper) SetNotify(fn NotifyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
}

// Spawn calls start, which must create exactly one child process and
// return its pid, and registers the child for Wait.
func (r *Reaper) Spawn(start func() (int, error)) (*Child, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, err := start()
	if err != nil {
		return nil, err
	}
	c := &Child{r: r, pid: pid, done: make(chan int, 1)}
	r.waiters[pid] = c
	return c, nil
}

// Reap collects every terminated child without blocking and returns how
// many it found. Statuses go to a registered waiter, else to the notify
// hook when the pid is a tracked background job, else nowhere.
func (r *Reaper) Reap() int {
	n := 0
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return n
		}
		n++
		r.dispatch(pid, ExitStatus(ws))
	}
}

func (r *Reaper) dispatch(pid, status int) {
	r.mu.Lock()
	c, waiting := r.waiters[pid]
	if waiting {
		delete(r.waiters, pid)
		c.done <- status
	}
	tracked := !waiting && r.tracker.Remove(pid)
	notify := r.notify
	r.mu.Unlock()

	if tracked && notify != nil {
		notify(pid, status)
	}
}

// Background hands c to the job tracker instead of a waiter. If c has
// already terminated it is reported at once.
func (r *Reaper) Background(c *Child) error {
	r.mu.Lock()
	var (
		exited bool
		status int
	)
	select {
	case status = <-c.done:
		exited = true
	default:
		delete(r.waiters, c.pid)
		if err := r.tracker.Add(c.pid); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	notify := r.notify
	r.mu.Unlock()

	if exited && notify != nil {
		notify(c.pid, status)
	}
	return nil
}

// Pending returns the number of children registered for Wait.
func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Reaper) forget(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, pid)
}

// Child is a process created through Spawn.
type Child struct {
	r    *Reaper
	pid  int
	done chan int
}

// Pid returns the child's process id.
func (c *Child) Pid() int { return c.pid }

// Wait blocks until the child is reaped. Cancelling ctx abandons the wait;
// the child is then discarded when it is eventually reaped.
func (c *Child) Wait(ctx context.Context) (int, error) {
	select {
	case status := <-c.done:
		return status, nil
	case <-ctx.Done():
		c.Release()
		return -1, ctx.Err()
	}
}

// Release stops tracking the child for Wait.
func (c *Child) Release() {
	c.r.forget(c.pid)
}

// ExitStatus converts a wait status to a shell status: the exit code, or
// 128 plus the signal number for a child killed by a signal.
func ExitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}
