package cogen

import "runtime/debug"

// Resume is the value fed into a suspended task when it is stepped:
// either a plain value (the result of whatever it yielded) or an error to
// be raised at the yield point, replacing the source's coro.throw.
type Resume struct {
	Value any
	Err   error
}

type yieldMsg struct {
	op    Operation
	done  bool
	value any
	err   error
}

// Task wraps a single in-progress coroutine. Go has no stackful
// generators, so a task is modeled as its own goroutine parked on an
// unbuffered handoff channel at every suspension point: the scheduler
// only ever has one task's body actually running at a time, because
// RunOp blocks until that body yields again.
type Task struct {
	id uint64
	fn func(*Task) (any, error)

	toTask   chan Resume
	fromTask chan yieldMsg
	started  bool

	running bool
	prio    Priority

	caller  *Task // set when this task is the callee of a Call
	waiters []*Task

	resultValue any
	resultErr   error
	terminated  bool
}

func newTask(id uint64, fn func(*Task) (any, error), prio Priority) *Task {
	return &Task{
		id:       id,
		fn:       fn,
		toTask:   make(chan Resume),
		fromTask: make(chan yieldMsg),
		running:  true,
		prio:     prio,
	}
}

// Yield suspends the task's goroutine until the scheduler resumes it,
// handing op to the scheduler and blocking for a Resume.
func (t *Task) Yield(op Operation) (any, error) {
	t.fromTask <- yieldMsg{op: op}
	r := <-t.toTask
	return r.Value, r.Err
}

func (t *Task) runBody() {
	defer func() {
		if r := recover(); r != nil {
			t.fromTask <- yieldMsg{
				done: true,
				err:  &CoroutineError{Recovered: r, Stack: debug.Stack()},
			}
		}
	}()
	value, err := t.fn(t)
	t.fromTask <- yieldMsg{done: true, value: value, err: err}
}

// RunOp advances the task by one step: resume is delivered to the
// suspended Yield call (or, on the very first step, discarded, since the
// task body hasn't yielded yet to receive it). It returns the next yielded
// Operation, or nil with done=true once the task's body has returned.
func (t *Task) RunOp(resume Resume) (op Operation, done bool, value any, err error) {
	if !t.started {
		t.started = true
		go t.runBody()
	} else {
		t.toTask <- resume
	}
	msg := <-t.fromTask
	if msg.done {
		t.running = false
		return nil, true, msg.value, msg.err
	}
	return msg.op, false, nil, nil
}

// addWaiter registers w to be resumed when t terminates.
func (t *Task) addWaiter(w *Task) {
	t.waiters = append(t.waiters, w)
}

// removeWaiter cancels a pending Join registration (used by the timeout
// handler when a Join times out before t terminates).
func (t *Task) removeWaiter(w *Task) {
	for i, x := range t.waiters {
		if x == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// ID returns the task's scheduler-assigned identifier, stable for its
// lifetime. Useful for logging and for tests asserting ordering.
func (t *Task) ID() uint64 { return t.id }

// Running reports whether the task's body has not yet returned.
func (t *Task) Running() bool { return t.running }
