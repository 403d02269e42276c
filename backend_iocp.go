//go:build windows

package cogen

import (
	"time"

	"golang.org/x/sys/windows"
)

// iocpBackend is the default backend on Windows. True IOCP overlaps I/O at
// the kernel level; here each registration gets one worker goroutine that
// performs the (now blocking) syscall and posts its outcome to a
// completion channel, which Run drains. The result is the same
// completion-delivered, buffer-already-in-hand contract the real IOCP
// gives tryRun(reactor = false), achieved with goroutines instead of
// OVERLAPPED structures.
type iocpBackend struct {
	port       windows.Handle
	completion chan iocpCompletion
	pending    map[uintptr]fdRegistration
	nextID     uintptr
}

type iocpCompletion struct {
	id  uintptr
	n   int
	err error
}

// IOCP constructs the completion-style backend.
func IOCP() (Backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpBackend{
		port:       port,
		completion: make(chan iocpCompletion, 64),
		pending:    make(map[uintptr]fdRegistration),
	}, nil
}

func (b *iocpBackend) name() backendName { return backendIOCP }

func (b *iocpBackend) Add(op SocketOperation, task *Task) (error, bool) {
	done, err := op.tryRun(true)
	if done {
		return err, true
	}
	b.nextID++
	id := b.nextID
	b.pending[id] = fdRegistration{op: op, task: task}
	if iop, ok := op.(iocpOperation); ok {
		go b.workerIOCP(id, iop)
	} else {
		go b.workerPoll(id, op)
	}
	return nil, false
}

// workerIOCP posts iop's buffer via a blocking syscall and feeds the
// transferred byte count back through completeIOCP, the genuine
// completion-style path.
func (b *iocpBackend) workerIOCP(id uintptr, iop iocpOperation) {
	buf := iop.prepareIOCP()
	var n int
	var err error
	if iop.wantsRead() {
		n, err = sockRecv(iop.socket().fd, buf)
	} else {
		n, err = sockSend(iop.socket().fd, buf)
	}
	completeErr := iop.completeIOCP(buf, n, err)
	b.completion <- iocpCompletion{id: id, err: completeErr}
}

// workerPoll backs operations with no iocpOperation implementation
// (ReadAll/ReadLine/WriteAll/Accept/Connect/SendFile) by retrying
// tryRun(false) until it reports done.
func (b *iocpBackend) workerPoll(id uintptr, op SocketOperation) {
	for {
		done, err := op.tryRun(false)
		if done {
			b.completion <- iocpCompletion{id: id, err: err}
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *iocpBackend) Remove(op SocketOperation, task *Task) bool {
	for id, r := range b.pending {
		if r.op == op && r.task == task {
			delete(b.pending, id)
			return true
		}
	}
	return false
}

func (b *iocpBackend) Run(sched *Scheduler, timeout *time.Duration) *PassOp {
	d := Resolution
	if timeout != nil {
		d = *timeout
	}
	select {
	case c := <-b.completion:
		r, ok := b.pending[c.id]
		if !ok {
			return nil
		}
		delete(b.pending, c.id)
		r.op.base().Finalized = true
		return Pass(r.op, c.err, r.task)
	case <-time.After(d):
		return nil
	}
}

func (b *iocpBackend) WaitingOp(task *Task) (SocketOperation, bool) {
	for _, r := range b.pending {
		if r.task == task {
			return r.op, true
		}
	}
	return nil, false
}

func (b *iocpBackend) Len() int { return len(b.pending) }

func (b *iocpBackend) Close() error { return windows.CloseHandle(b.port) }
