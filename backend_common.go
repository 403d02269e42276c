package cogen

import "fmt"

// regKey identifies one directional registration: a given fd can have at
// most one read-family and one write-family operation outstanding at once,
// so (fd, write) is a sufficient key.
type regKey struct {
	fd    int
	write bool
}

type fdRegistration struct {
	op   SocketOperation
	task *Task
	// buf is set only by the io_uring backend for operations that
	// implement iocpOperation: the buffer posted to the kernel, needed
	// again at completion time to hand back to completeIOCP.
	buf []byte
}

// backendCore is the bookkeeping shared by every readiness-style backend
// (select/poll/epoll/kqueue): a map from (fd, direction) to the waiting
// operation, plus the draining logic that turns a batch of ready keys into
// either immediate completions or re-registrations.
type backendCore struct {
	regs map[regKey]fdRegistration
}

func newBackendCore() *backendCore {
	return &backendCore{regs: make(map[regKey]fdRegistration)}
}

func (c *backendCore) key(op SocketOperation) regKey {
	return regKey{fd: op.socket().fd, write: !op.wantsRead()}
}

func (c *backendCore) put(op SocketOperation, task *Task) {
	k := c.key(op)
	if _, dup := c.regs[k]; dup {
		panic(fmt.Sprintf("cogen: fd %d already has a pending operation in this direction (write=%v)", k.fd, k.write))
	}
	c.regs[k] = fdRegistration{op: op, task: task}
}

func (c *backendCore) delete(k regKey) {
	delete(c.regs, k)
}

func (c *backendCore) get(k regKey) (fdRegistration, bool) {
	r, ok := c.regs[k]
	return r, ok
}

func (c *backendCore) remove(op SocketOperation, task *Task) bool {
	k := c.key(op)
	r, ok := c.regs[k]
	if !ok || r.task != task {
		return false
	}
	delete(c.regs, k)
	return true
}

func (c *backendCore) waitingOp(task *Task) (SocketOperation, bool) {
	for _, r := range c.regs {
		if r.task == task {
			return r.op, true
		}
	}
	return nil, false
}

func (c *backendCore) len() int { return len(c.regs) }

// drainReady processes every key in ready (in order): each completed
// operation is finalized through sched.completeSocketOp, each operation
// that would still block is re-registered via reregister. The very last
// entry is handled the same way unless it completes, in which case it's
// marked Finalized and returned as a *PassOp instead of going through
// completeSocketOp, letting the scheduler step it without a ready-queue
// round trip.
func (c *backendCore) drainReady(sched *Scheduler, ready []regKey, reregister func(regKey)) *PassOp {
	var pass *PassOp
	for i, k := range ready {
		r, ok := c.get(k)
		c.delete(k)
		if !ok {
			continue
		}
		done, err := r.op.tryRun(true)
		if !done {
			c.put(r.op, r.task)
			reregister(k)
			continue
		}
		if i == len(ready)-1 {
			r.op.base().Finalized = true
			pass = Pass(r.op, err, r.task)
			continue
		}
		sched.completeSocketOp(r.op, r.task, err)
	}
	return pass
}
