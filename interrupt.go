package cogen

import (
	"os"
	"os/signal"
	"syscall"
)

// StopOnInterrupt arranges for sched.Stop to be called the first time the
// process receives SIGINT or SIGTERM, and returns a function that cancels
// the watch (call it once Run returns, to stop leaking the signal
// registration in tests that construct many schedulers).
func StopOnInterrupt(sched *Scheduler) (cancel func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-quit:
			sched.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(quit)
		close(done)
	}
}
