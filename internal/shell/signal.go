package shell

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// HandleSignals routes SIGINT to Interrupt and SIGCHLD to the reaper.
// Returns a cleanup function to deregister the handlers.
func (s *Shell) HandleSignals() func() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, os.Interrupt, unix.SIGCHLD)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range ch {
			switch sig {
			case os.Interrupt:
				s.Interrupt()
			case unix.SIGCHLD:
				s.reaper.Reap()
			}
		}
	}()

	// Children may have exited before the handler was installed.
	s.reaper.Reap()

	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
