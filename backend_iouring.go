//go:build linux

package cogen

import (
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// iouringBackend is the bonus completion backend, adapted from the
// teacher's submission-queue/callback-map loop (aio/loop.go): a pending
// slice absorbs operations that couldn't get an SQE immediately, and every
// submitted SQE's UserData is a counter key into a callback map instead of
// a closure, so plain SocketOperation/Task pairs can ride alongside the
// iocpOperation fast path. It is never chosen by defaultBackend; opt in
// explicitly by passing the backend returned by IOURing() to WithBackend.
type iouringBackend struct {
	ring    *giouring.Ring
	nextID  uint64
	regs    map[uint64]fdRegistration
	pending []func(*giouring.SubmissionQueueEntry)
}

const iouringRingEntries = 1024

// IOURing constructs the io_uring-based backend. Requires a kernel recent
// enough for SQPOLL-free multishot/poll support (5.x+); callers should
// fall back to Epoll() if this returns an error.
func IOURing() (Backend, error) {
	ring, err := giouring.CreateRing(iouringRingEntries)
	if err != nil {
		return nil, err
	}
	return &iouringBackend{ring: ring, regs: make(map[uint64]fdRegistration)}, nil
}

func (b *iouringBackend) name() backendName { return backendIOURing }

func (b *iouringBackend) submit(prepare func(*giouring.SubmissionQueueEntry)) {
	sqe := b.ring.GetSQE()
	if sqe == nil {
		b.pending = append(b.pending, prepare)
		return
	}
	prepare(sqe)
}

func (b *iouringBackend) flushPending() {
	n := 0
	for _, prepare := range b.pending {
		sqe := b.ring.GetSQE()
		if sqe == nil {
			break
		}
		prepare(sqe)
		n++
	}
	b.pending = b.pending[n:]
}

func (b *iouringBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	b.register(op, task)
	return nil, false
}

// register submits one SQE for op: a direct read/write when op implements
// iocpOperation (the kernel delivers the transferred bytes straight into
// the posted buffer), otherwise a POLL_ADD used the same way Epoll uses
// epoll_wait: a pure readiness signal for op.tryRun(true).
func (b *iouringBackend) register(op SocketOperation, task *Task) {
	b.nextID++
	id := b.nextID
	fd := op.socket().fd

	if iop, ok := op.(iocpOperation); ok {
		buf := iop.prepareIOCP()
		b.regs[id] = fdRegistration{op: op, task: task, buf: buf}
		b.submit(func(sqe *giouring.SubmissionQueueEntry) {
			if op.wantsRead() {
				sqe.PrepareRead(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
			} else {
				sqe.PrepareWrite(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
			}
			sqe.UserData = id
		})
		return
	}

	b.regs[id] = fdRegistration{op: op, task: task}
	mask := uint32(unix.POLLOUT)
	if op.wantsRead() {
		mask = unix.POLLIN
	}
	b.submit(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PreparePollAdd(fd, mask)
		sqe.UserData = id
	})
}

func (b *iouringBackend) Remove(op SocketOperation, task *Task) bool {
	for id, r := range b.regs {
		if r.op == op && r.task == task {
			delete(b.regs, id)
			b.submit(func(sqe *giouring.SubmissionQueueEntry) {
				sqe.PrepareCancel64(id, 0)
			})
			return true
		}
	}
	return false
}

func (b *iouringBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	b.flushPending()
	if _, err := b.ring.SubmitAndWait(0); err != nil && !isRingTemporary(err) {
		sched.logger.Error("cogen: io_uring submit failed", "err", err)
	}
	ts := iouringTimespec(timeout)
	if _, err := b.ring.WaitCQEs(1, ts, nil); err != nil && !isRingTemporary(err) {
		sched.logger.Error("cogen: io_uring wait failed", "err", err)
		return nil
	}

	type completed struct {
		reg fdRegistration
		res int32
	}
	var done []completed
	var cqes [64]*giouring.CompletionQueueEvent
	for {
		n := b.ring.PeekBatchCQE(cqes[:])
		for _, cqe := range cqes[:n] {
			reg, ok := b.regs[cqe.UserData]
			if !ok {
				continue
			}
			delete(b.regs, cqe.UserData)
			done = append(done, completed{reg: reg, res: cqe.Res})
		}
		b.ring.CQAdvance(n)
		if n < uint32(len(cqes)) {
			break
		}
	}

	var pass *PassOp
	for i, c := range done {
		result, err := b.resolve(c.reg, c.res)
		if !result {
			b.register(c.reg.op, c.reg.task)
			continue
		}
		c.reg.op.base().Finalized = true
		if i == len(done)-1 {
			pass = Pass(c.reg.op, err, c.reg.task)
			continue
		}
		sched.completeSocketOp(c.reg.op, c.reg.task, err)
	}
	return pass
}

// resolve interprets one CQE's result for reg: iocpOperation ops get their
// posted buffer's outcome fed straight through completeIOCP; poll-driven
// ops get a normal tryRun(true) readiness callback.
func (b *iouringBackend) resolve(reg fdRegistration, res int32) (done bool, err error) {
	if iop, ok := reg.op.(iocpOperation); ok {
		if res < 0 {
			return true, wrapSockErr("io_uring", unix.Errno(-res))
		}
		return true, iop.completeIOCP(reg.buf, int(res), nil)
	}
	return reg.op.tryRun(true)
}

func (b *iouringBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	for _, r := range b.regs {
		if r.task == task {
			return r.op, true
		}
	}
	return nil, false
}

func (b *iouringBackend) Len() int { return len(b.regs) }

func (b *iouringBackend) Close() error {
	b.ring.QueueExit()
	return nil
}

func isRingTemporary(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && (errno == unix.EINTR || errno == unix.ETIME)
}

func iouringTimespec(timeout *time.Duration) *unix.Timespec {
	if timeout == nil {
		ts := unix.NsecToTimespec(ResolutionNS)
		return &ts
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	return &ts
}
