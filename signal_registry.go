package cogen

// signalWaiter pairs a suspended WaitForSignal operation with the task
// that yielded it.
type signalWaiter struct {
	op   *WaitForSignalOp
	task *Task
}

// signalRegistry maps a signal name to an ordered queue of waiters, so
// waiters are woken in the same order they registered.
type signalRegistry struct {
	waiting map[any][]signalWaiter
}

func newSignalRegistry() *signalRegistry {
	return &signalRegistry{waiting: make(map[any][]signalWaiter)}
}

func (r *signalRegistry) add(op *WaitForSignalOp, task *Task) {
	r.waiting[op.Name] = append(r.waiting[op.Name], signalWaiter{op: op, task: task})
}

// remove cancels a pending wait (used by the timeout handler). Reports
// whether an entry was actually removed.
func (r *signalRegistry) remove(name any, task *Task) bool {
	q := r.waiting[name]
	for i, w := range q {
		if w.task == task {
			r.waiting[name] = append(q[:i], q[i+1:]...)
			if len(r.waiting[name]) == 0 {
				delete(r.waiting, name)
			}
			return true
		}
	}
	return false
}

// drain pops up to n waiters registered under name (all of them if n <=
// 0), in registration order, and deletes the queue if emptied.
func (r *signalRegistry) drain(name any, n int) []signalWaiter {
	q := r.waiting[name]
	if len(q) == 0 {
		return nil
	}
	if n <= 0 || n >= len(q) {
		delete(r.waiting, name)
		return q
	}
	woken := append([]signalWaiter(nil), q[:n]...)
	r.waiting[name] = append([]signalWaiter(nil), q[n:]...)
	return woken
}

func (r *signalRegistry) len() int {
	n := 0
	for _, q := range r.waiting {
		n += len(q)
	}
	return n
}
