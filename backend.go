package cogen

import "time"

// Resolution is the default polling granularity used whenever a backend
// has pending I/O registrations but the scheduler has no active tasks and
// no pending timer. Matches Poller.RESOLUTION (0.02s, also exposed in
// ms/ns scales) from the scheduler this module ports.
const (
	Resolution   = 20 * time.Millisecond
	ResolutionMS = 20
	ResolutionNS = int64(Resolution)
)

// Backend is the uniform reactor/proactor contract every polling strategy
// implements. Readiness backends (select/poll/epoll/kqueue) perform the
// syscall themselves once notified and call Operation's try-run hook; the
// completion backend (IOCP) posts the buffer to the kernel at
// registration time and feeds delivered bytes back before calling the
// same hook. Both styles are bridged through SocketOperation.
type Backend interface {
	// Add registers op for task. If the operation can complete
	// immediately (buffered data already satisfies it, or the socket
	// happens to be ready without waiting on the backend at all), Add
	// calls op.tryRun itself, returns ok=true and the resulting error (if
	// any), and registers nothing.
	Add(op SocketOperation, task *Task) (err error, ok bool)

	// Remove cancels a pending registration (used by the timeout handler
	// and explicit cancellation). Reports whether a registration was
	// actually removed.
	Remove(op SocketOperation, task *Task) bool

	// Run blocks for up to timeout (nil means "block using the
	// backend's own resolution"; 0 means "don't block"), drains ready
	// events, and dispatches each one through sched.completeSocketOp. As
	// an optimization it may skip enqueuing the very last event and
	// instead return it as a *PassOp, letting the scheduler step that
	// task immediately instead of paying for a queue round-trip.
	Run(sched *Scheduler, timeout *time.Duration) *PassOp

	// WaitingOp returns the operation currently registered for task, if
	// any (inverse lookup used by the timeout handler).
	WaitingOp(task *Task) (SocketOperation, bool)

	// Len reports the number of pending registrations; it drives the
	// scheduler's termination check.
	Len() int

	// Close releases any OS resources held by the backend (epoll/kqueue
	// fd, IOCP handle, and so on).
	Close() error
}

// backendName identifies a Backend implementation, used for logging and
// for Scheduler.Stats().
type backendName string

const (
	backendSelect  backendName = "select"
	backendPoll    backendName = "poll"
	backendEpoll   backendName = "epoll"
	backendKqueue  backendName = "kqueue"
	backendIOCP    backendName = "iocp"
	backendIOURing backendName = "io_uring"
)

type namedBackend interface {
	Backend
	name() backendName
}
