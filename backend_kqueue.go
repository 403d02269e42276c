//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package cogen

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueueBackend is the default backend on BSD-family kernels (darwin
// included), mirroring epollBackend's shape but registering one kevent per
// direction instead of one epoll_event per fd.
type kqueueBackend struct {
	*backendCore
	fd int
}

// Kqueue constructs the kqueue-based backend.
func Kqueue() (Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{backendCore: newBackendCore(), fd: fd}, nil
}

func (b *kqueueBackend) name() backendName { return backendKqueue }

func (b *kqueueBackend) changeFor(k regKey, enable bool) unix.Kevent_t {
	filter := int16(unix.EVFILT_READ)
	if k.write {
		filter = unix.EVFILT_WRITE
	}
	flags := uint16(unix.EV_ADD | unix.EV_ONESHOT)
	if !enable {
		flags = unix.EV_DELETE
	}
	return unix.Kevent_t{Ident: uint64(k.fd), Filter: filter, Flags: flags}
}

func (b *kqueueBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	b.put(op, task)
	ch := b.changeFor(b.key(op), true)
	if _, kerr := unix.Kevent(b.fd, []unix.Kevent_t{ch}, nil, nil); kerr != nil {
		b.delete(b.key(op))
		return kerr, true
	}
	return nil, false
}

func (b *kqueueBackend) Remove(op SocketOperation, task *Task) bool {
	k := b.key(op)
	if !b.backendCore.remove(op, task) {
		return false
	}
	ch := b.changeFor(k, false)
	_, _ = unix.Kevent(b.fd, []unix.Kevent_t{ch}, nil, nil)
	return true
}

func (b *kqueueBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	ts := kqueueTimespec(timeout)
	events := make([]unix.Kevent_t, 64)
	n, err := unix.Kevent(b.fd, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		sched.logger.Error("cogen: kevent failed", "err", err)
		return nil
	}
	ready := make([]regKey, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, regKey{fd: int(events[i].Ident), write: events[i].Filter == unix.EVFILT_WRITE})
	}
	return b.drainReady(sched, ready, func(k regKey) {
		ch := b.changeFor(k, true)
		_, _ = unix.Kevent(b.fd, []unix.Kevent_t{ch}, nil, nil)
	})
}

func (b *kqueueBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	return b.waitingOp(task)
}

func (b *kqueueBackend) Len() int { return b.len() }

func (b *kqueueBackend) Close() error { return unix.Close(b.fd) }

func kqueueTimespec(timeout *time.Duration) *unix.Timespec {
	if timeout == nil {
		ts := unix.NsecToTimespec(ResolutionNS)
		return &ts
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	return &ts
}
