package cogen

import (
	"errors"
	"log/slog"
	"os"
	"time"
)

var errUnknownOp = errors.New("cogen: task yielded an unrecognized operation type")

// readyItem is one pending (task, resume) pair waiting its turn on the
// ready queue.
type readyItem struct {
	task   *Task
	resume Resume
}

// readyQueue is a plain deque: handoff pushes a resumed PrioCORO task to
// the front (so it runs before anything already waiting) and everything
// else to the back; a newly spawned task goes to the front or back
// according to its first flag.
type readyQueue struct {
	items []readyItem
}

func (q *readyQueue) pushBack(item readyItem)  { q.items = append(q.items, item) }
func (q *readyQueue) pushFront(item readyItem) { q.items = append([]readyItem{item}, q.items...) }

func (q *readyQueue) popFront() (readyItem, bool) {
	if len(q.items) == 0 {
		return readyItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *readyQueue) len() int { return len(q.items) }

// Scheduler runs a flat pool of cooperative tasks to completion, the same
// way the source proactor/reactor run loop does: drain everything ready to
// step, then block in the backend for the next I/O or timer event.
type Scheduler struct {
	logger  *slog.Logger
	backend Backend

	ready   readyQueue
	timers  *timerStore
	signals *signalRegistry

	// joinOps tracks the JoinOp a waiting task is blocked on, so a
	// timeout can mark it Finalized and a normal wakeup can do the same
	// without threading the op through Task.waiters.
	joinOps map[*Task]*JoinOp

	nextTaskID      uint64
	tasksAlive      int
	defaultPriority Priority
	defaultTimeout  time.Duration
	resolution      time.Duration

	running       bool
	stopRequested bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithBackend selects the I/O backend. Defaults to the best one available
// for the host OS (see backend_default_*.go).
func WithBackend(b Backend) Option {
	return func(s *Scheduler) { s.backend = b }
}

// WithDefaultPriority sets the dispatch priority bits newly spawned tasks
// get when their op didn't specify one explicitly.
func WithDefaultPriority(p Priority) Option {
	return func(s *Scheduler) { s.defaultPriority = p }
}

// WithDefaultTimeout sets the deadline applied to sockets that don't set
// their own via Socket.SetTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.defaultTimeout = d }
}

// WithResolution overrides the polling granularity backends fall back to
// when no sleep or timeout deadline is pending but I/O registrations
// remain. Defaults to Resolution.
func WithResolution(d time.Duration) Option {
	return func(s *Scheduler) { s.resolution = d }
}

// WithLogger overrides the scheduler's structured logger. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New constructs a Scheduler. If no backend was supplied via WithBackend,
// defaultBackend() picks one for the host OS.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:     slog.Default(),
		timers:     newTimerStore(),
		signals:    newSignalRegistry(),
		joinOps:    make(map[*Task]*JoinOp),
		resolution: Resolution,
	}
	for _, o := range opts {
		o(s)
	}
	if s.backend == nil {
		b, err := defaultBackend()
		if err != nil {
			s.logger.Error("cogen: no usable backend for this platform", "err", err)
			os.Exit(1)
		}
		s.backend = b
	}
	return s
}

// Add spawns fn as a new top-level task. first places it at the front of
// the ready queue (so it runs before anything already scheduled) instead
// of the back.
func (s *Scheduler) Add(fn func(*Task) (any, error), first bool, opts ...OpOption) *Task {
	b := newOpBase(opts)
	prio := b.Prio
	if prio == PrioNone {
		prio = s.defaultPriority
	}
	t := s.newTask(fn, prio)
	s.enqueueNewTask(t, first)
	return t
}

// NewSocket wraps fd the same way the package-level NewSocket does, but
// also seeds the socket's timeout from WithDefaultTimeout, matching
// sockets.py's Socket.__init__ picking up the current module-level
// default. Sockets accepted off a listener built this way inherit the
// listener's timeout in turn (see AcceptOp.tryRun).
func (s *Scheduler) NewSocket(fd int) *Socket {
	sock := NewSocket(fd)
	if s.defaultTimeout > 0 {
		sock.SetTimeout(s.defaultTimeout)
	}
	return sock
}

func (s *Scheduler) newTask(fn func(*Task) (any, error), prio Priority) *Task {
	s.nextTaskID++
	s.tasksAlive++
	return newTask(s.nextTaskID, fn, prio)
}

func (s *Scheduler) enqueueNewTask(t *Task, first bool) {
	item := readyItem{task: t, resume: Resume{}}
	if first {
		s.ready.pushFront(item)
	} else {
		s.ready.pushBack(item)
	}
}

// Run drains the ready queue and blocks in the backend for further I/O or
// timer events until no task, timer or registration remains (or Stop is
// called).
func (s *Scheduler) Run() {
	s.running = true
	s.stopRequested = false
	for s.running {
		if s.stopRequested {
			break
		}
		item, ok := s.ready.popFront()
		if !ok {
			if !s.hasWork() {
				break
			}
			s.waitAndPoll()
			continue
		}
		s.step(item)
	}
	s.running = false
}

// Stop requests the run loop to exit after the current step. Tasks left
// suspended are abandoned; their goroutines stay parked on toTask forever.
// Callers that need a clean shutdown should cancel their own sockets and
// let ErrConnectionClosed unwind the task bodies first.
func (s *Scheduler) Stop() {
	s.stopRequested = true
}

// hasWork reports whether the run loop has anything left to wait for:
// ready tasks, poller registrations, or the sleep heap. The timeout heap
// and the signal registry are deliberately excluded, matching the ground
// truth's run condition. Once nothing is ready, asleep or registered, no
// task is left that could signal a waiter, so Run returns and leaves
// signal waiters parked (their timeouts do not fire). A stale timeout
// entry left behind by an operation that already finished through its
// normal path (dropped lazily once drainTimeouts reaches its original
// deadline) must not block shutdown either.
func (s *Scheduler) hasWork() bool {
	return s.ready.len() > 0 || s.timers.sleepLen() > 0 || s.backend.Len() > 0
}

// step advances one task by exactly one yield, then dispatches whatever it
// yielded (or finalizes it, if it returned).
func (s *Scheduler) step(item readyItem) {
	op, done, value, err := item.task.RunOp(item.resume)
	if done {
		s.finalizeTask(item.task, value, err)
		return
	}
	s.dispatch(op, item.task)
}

// handoff delivers (value, err) to target according to prio: PrioOP steps
// it inline right now, PrioCORO front-loads the ready queue, otherwise it
// goes to the back.
func (s *Scheduler) handoff(target *Task, value any, err error, prio Priority) {
	if prio.hasOP() {
		s.dispatch(Pass(value, err, target), nil)
		return
	}
	item := readyItem{task: target, resume: Resume{Value: value, Err: err}}
	if prio.hasCORO() {
		s.ready.pushFront(item)
	} else {
		s.ready.pushBack(item)
	}
}

// dispatch processes one freshly-yielded Operation. Non-socket operations
// are handled inline; SocketOperation values are handed to the backend for
// registration (or immediate completion, if the backend can satisfy them
// without blocking).
func (s *Scheduler) dispatch(op Operation, task *Task) {
	switch o := op.(type) {
	case *PassOp:
		o.Finalized = true
		s.step(readyItem{task: o.Target, resume: Resume{Value: o.Result, Err: o.Err}})

	case *CallOp:
		prio := o.Prio
		if prio == PrioNone {
			prio = task.prio
		}
		callee := s.newTask(o.Fn, prio)
		callee.caller = task
		callee.addWaiter(task)
		s.enqueueNewTask(callee, true)

	case *JoinOp:
		if !o.Target.Running() {
			o.Finalized = true
			s.handoff(task, o.Target.resultValue, o.Target.resultErr, task.prio)
			return
		}
		o.Target.addWaiter(task)
		s.joinOps[task] = o
		if o.hasTimeout() {
			s.timers.pushTimeout(task, o, o.Timeout, o.WeakTimeout)
		}

	case *SleepOp:
		s.timers.pushSleep(task, o.WakeAt)

	case *AddCoroOp:
		prio := o.Prio
		if prio == PrioNone {
			prio = task.prio
		}
		nt := s.newTask(o.Fn, prio)
		s.enqueueNewTask(nt, o.First)
		o.Finalized = true
		s.handoff(task, nt, nil, task.prio)

	case *WaitForSignalOp:
		s.signals.add(o, task)
		if o.hasTimeout() {
			s.timers.pushTimeout(task, o, o.Timeout, o.WeakTimeout)
		}

	case *SignalOp:
		woken := s.signals.drain(o.Name, o.Recipients)
		for _, w := range woken {
			w.op.Finalized = true
			s.handoff(w.task, o.Value, nil, w.task.prio)
		}
		o.Finalized = true
		s.handoff(task, len(woken), nil, task.prio)

	case SocketOperation:
		s.dispatchSocketOp(o, task)

	default:
		s.handoff(task, nil, &ErrConnectionError{Op: "dispatch", Err: errUnknownOp}, task.prio)
	}
}

func (s *Scheduler) dispatchSocketOp(op SocketOperation, task *Task) {
	err, ok := s.backend.Add(op, task)
	if ok {
		s.completeSocketOp(op, task, err)
		return
	}
	if op.hasTimeout() {
		s.timers.pushTimeout(task, op, op.base().Timeout, op.base().WeakTimeout)
	}
}

// completeSocketOp is the single exit path for a finished SocketOperation,
// called both from dispatchSocketOp's immediate-completion branch and by
// every Backend implementation once its tryRun call returns done=true.
func (s *Scheduler) completeSocketOp(op SocketOperation, task *Task, err error) {
	op.base().Finalized = true
	s.handoff(task, op, err, task.prio)
}

// finalizeTask records a terminated task's outcome and wakes everything
// joined on it, in registration order.
func (s *Scheduler) finalizeTask(task *Task, value any, err error) {
	task.resultValue = value
	task.resultErr = err
	task.terminated = true
	s.tasksAlive--

	waiters := task.waiters
	task.waiters = nil
	for _, w := range waiters {
		if jop, ok := s.joinOps[w]; ok {
			jop.Finalized = true
			delete(s.joinOps, w)
		}
		s.handoff(w, value, err, w.prio)
	}
}

// waitAndPoll blocks in the backend until the nearest timer fires or an
// I/O event arrives, then drains whatever timers expired.
func (s *Scheduler) waitAndPoll() {
	timeout := s.nextTimeout()
	pass := s.backend.Run(s, timeout)
	if pass != nil {
		s.dispatch(pass, nil)
	}
	now := time.Now()
	for _, t := range s.timers.drainSleeps(now) {
		s.handoff(t, nil, nil, t.prio)
	}
	for _, fired := range s.timers.drainTimeouts(now) {
		s.cancelRegistration(fired.op, fired.task)
		fired.op.base().Finalized = true
		s.handoff(fired.task, nil, &ErrOperationTimeout{Op: fired.op}, fired.task.prio)
	}
}

// cancelRegistration unregisters op from whatever it's parked on, used
// when a timeout fires before the operation resolved naturally.
func (s *Scheduler) cancelRegistration(op Operation, task *Task) {
	switch o := op.(type) {
	case *WaitForSignalOp:
		s.signals.remove(o.Name, task)
	case *JoinOp:
		o.Target.removeWaiter(task)
		delete(s.joinOps, task)
	case SocketOperation:
		s.backend.Remove(o, task)
	}
}

// nextTimeout computes how long Backend.Run should block. With no sleep
// or timeout pending it falls back to the scheduler's own resolution,
// so Backend.Run always gets a concrete duration instead of having to
// supply its own default.
func (s *Scheduler) nextTimeout() *time.Duration {
	sleepAt, hasSleep := s.timers.nextSleepDeadline()
	timeoutAt, hasTimeout := s.timers.nextTimeoutDeadline()
	switch {
	case hasSleep && hasTimeout:
		if sleepAt.Before(timeoutAt) {
			return durUntil(sleepAt)
		}
		return durUntil(timeoutAt)
	case hasSleep:
		return durUntil(sleepAt)
	case hasTimeout:
		return durUntil(timeoutAt)
	default:
		return &s.resolution
	}
}

func durUntil(t time.Time) *time.Duration {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return &d
}

// Stats reports a point-in-time snapshot, useful for logging and tests.
type Stats struct {
	TasksAlive    int
	ReadyQueue    int
	SleepTimers   int
	Timeouts      int
	SignalWaiters int
	Registrations int
	Backend       string
}

func (s *Scheduler) Stats() Stats {
	name := "unknown"
	if nb, ok := s.backend.(namedBackend); ok {
		name = string(nb.name())
	}
	return Stats{
		TasksAlive:    s.tasksAlive,
		ReadyQueue:    s.ready.len(),
		SleepTimers:   s.timers.sleepLen(),
		Timeouts:      s.timers.timeoutLen(),
		SignalWaiters: s.signals.len(),
		Registrations: s.backend.Len(),
		Backend:       name,
	}
}
