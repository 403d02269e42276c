//go:build unix

package cogen

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollBackend is the portable unix fallback: a single poll(2) call over
// every registered fd, rebuilt each Run. Simpler than epoll/kqueue and
// O(n) per call, but needs no edge-triggered bookkeeping.
type pollBackend struct {
	*backendCore
}

// Poll constructs the poll(2)-based backend.
func Poll() (Backend, error) {
	return &pollBackend{backendCore: newBackendCore()}, nil
}

func (b *pollBackend) name() backendName { return backendPoll }

func (b *pollBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	b.put(op, task)
	return nil, false
}

func (b *pollBackend) Remove(op SocketOperation, task *Task) bool {
	return b.backendCore.remove(op, task)
}

func (b *pollBackend) fds() []int {
	seen := make(map[int]bool)
	var fds []int
	for k := range b.regs {
		if !seen[k.fd] {
			seen[k.fd] = true
			fds = append(fds, k.fd)
		}
	}
	return fds
}

func (b *pollBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	fds := b.fds()
	if len(fds) == 0 {
		time.Sleep(pollSleepDuration(timeout))
		return nil
	}
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		var events int16
		if _, ok := b.get(regKey{fd: fd, write: false}); ok {
			events |= unix.POLLIN
		}
		if _, ok := b.get(regKey{fd: fd, write: true}); ok {
			events |= unix.POLLOUT
		}
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: events}
	}
	ms := pollTimeoutMS(timeout)
	n, err := unix.Poll(pfds, ms)
	if err != nil || n == 0 {
		if err != nil && err != unix.EINTR {
			sched.logger.Error("cogen: poll failed", "err", err)
		}
		return nil
	}
	var ready []regKey
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, regKey{fd: int(pfd.Fd), write: false})
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, regKey{fd: int(pfd.Fd), write: true})
		}
	}
	return b.drainReady(sched, ready, func(regKey) {})
}

func (b *pollBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	return b.waitingOp(task)
}

func (b *pollBackend) Len() int { return b.len() }

func (b *pollBackend) Close() error { return nil }

func pollTimeoutMS(timeout *time.Duration) int {
	if timeout == nil {
		return ResolutionMS
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}

func pollSleepDuration(timeout *time.Duration) time.Duration {
	if timeout == nil {
		return Resolution
	}
	return *timeout
}
