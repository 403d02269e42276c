//go:build linux

package cogen

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend is the default backend on Linux, grounded on the
// registration/event-loop shape of aio/loop.go adapted from an io_uring
// submission queue to epoll_wait's readiness model.
type epollBackend struct {
	*backendCore
	fd int
}

// Epoll constructs the epoll-based backend.
func Epoll() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{backendCore: newBackendCore(), fd: fd}, nil
}

func (b *epollBackend) name() backendName { return backendEpoll }

func (b *epollBackend) epollEvent(fd int) uint32 {
	var events uint32
	if _, ok := b.get(regKey{fd: fd, write: false}); ok {
		events |= unix.EPOLLIN
	}
	if _, ok := b.get(regKey{fd: fd, write: true}); ok {
		events |= unix.EPOLLOUT
	}
	return events
}

func (b *epollBackend) syncInterest(fd int) error {
	events := b.epollEvent(fd)
	ev := &unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	if events == 0 {
		err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.ENOENT {
			return nil
		}
		return err
	}
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_MOD, fd, ev); err == unix.ENOENT {
		return unix.EpollCtl(b.fd, unix.EPOLL_CTL_ADD, fd, ev)
	} else {
		return err
	}
}

func (b *epollBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	b.put(op, task)
	if serr := b.syncInterest(op.socket().fd); serr != nil {
		b.delete(b.key(op))
		return serr, true
	}
	return nil, false
}

func (b *epollBackend) Remove(op SocketOperation, task *Task) bool {
	fd := op.socket().fd
	if !b.backendCore.remove(op, task) {
		return false
	}
	_ = b.syncInterest(fd)
	return true
}

func (b *epollBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	ms := epollTimeoutMS(timeout)
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.fd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		sched.logger.Error("cogen: epoll_wait failed", "err", err)
		return nil
	}
	var ready []regKey
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready = append(ready, regKey{fd: fd, write: false})
		}
		if events[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready = append(ready, regKey{fd: fd, write: true})
		}
	}
	pass := b.drainReady(sched, ready, func(k regKey) { _ = b.syncInterest(k.fd) })
	// A fired one-shot fd is disarmed as a whole: re-arm it for whatever
	// is still registered on it (or drop it if nothing is).
	for i := 0; i < n; i++ {
		_ = b.syncInterest(int(events[i].Fd))
	}
	return pass
}

func (b *epollBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	return b.waitingOp(task)
}

func (b *epollBackend) Len() int { return b.len() }

func (b *epollBackend) Close() error { return unix.Close(b.fd) }

func epollTimeoutMS(timeout *time.Duration) int {
	if timeout == nil {
		return ResolutionMS
	}
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}
