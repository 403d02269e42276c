//go:build unix

package cogen

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectBackend is the lowest-common-denominator unix backend: select(2)
// over three fd_sets, limited to unix.FD_SETSIZE descriptors. It exists
// for platforms or sandboxes where poll/epoll/kqueue aren't available, and
// as a correctness baseline the other backends can be tested against.
type selectBackend struct {
	*backendCore
}

// Select constructs the select(2)-based backend.
func Select() (Backend, error) {
	return &selectBackend{backendCore: newBackendCore()}, nil
}

func (b *selectBackend) name() backendName { return backendSelect }

func (b *selectBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	if op.socket().fd >= unix.FD_SETSIZE {
		return &ErrConnectionError{Op: "select", Err: unix.EINVAL}, true
	}
	b.put(op, task)
	return nil, false
}

func (b *selectBackend) Remove(op SocketOperation, task *Task) bool {
	return b.backendCore.remove(op, task)
}

func (b *selectBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	var rfds, wfds, efds unix.FdSet
	maxFd := -1
	for k := range b.regs {
		if k.write {
			fdSet(&wfds, k.fd)
		} else {
			fdSet(&rfds, k.fd)
		}
		// Every registered fd is watched for exceptional conditions too,
		// regardless of which direction it's registered for: a hung-up or
		// errored socket must wake its waiter even if it never becomes
		// readable or writable on its own.
		fdSet(&efds, k.fd)
		if k.fd > maxFd {
			maxFd = k.fd
		}
	}
	if maxFd < 0 {
		time.Sleep(pollSleepDuration(timeout))
		return nil
	}
	tv := selectTimeval(timeout)
	n, err := unix.Select(maxFd+1, &rfds, &wfds, &efds, tv)
	if err != nil || n == 0 {
		if err != nil && err != unix.EINTR {
			sched.logger.Error("cogen: select failed", "err", err)
		}
		return nil
	}
	var ready []regKey
	for k := range b.regs {
		if !k.write && (fdIsSet(&rfds, k.fd) || fdIsSet(&efds, k.fd)) {
			ready = append(ready, k)
		}
		if k.write && (fdIsSet(&wfds, k.fd) || fdIsSet(&efds, k.fd)) {
			ready = append(ready, k)
		}
	}
	return b.drainReady(sched, ready, func(regKey) {})
}

func (b *selectBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	return b.waitingOp(task)
}

func (b *selectBackend) Len() int { return b.len() }

func (b *selectBackend) Close() error { return nil }

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func selectTimeval(timeout *time.Duration) *unix.Timeval {
	if timeout == nil {
		tv := unix.NsecToTimeval(ResolutionNS)
		return &tv
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return &tv
}
