package cogen

import (
	"fmt"
)

// Namespace prefixes every sentinel error message, matching the
// package-prefixed error style used throughout the pack (e.g.
// ygrebnov-workers' "workers: ..." errors).
const Namespace = "cogen"

// ErrConnectionClosed is raised inside a task when a read-family operation
// observes a cleanly closed peer (an accept, read or recv returning zero
// bytes, or EPIPE on write).
type ErrConnectionClosed struct {
	Op  string
	Err error
}

func (e *ErrConnectionClosed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: connection closed: %s", Namespace, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: connection closed", Namespace, e.Op)
}

func (e *ErrConnectionClosed) Unwrap() error { return e.Err }

// ErrConnectionError wraps an unexpected socket error (anything other than
// EAGAIN/EWOULDBLOCK, which is not an error, and EPIPE, which is promoted
// to ErrConnectionClosed) delivered either by a syscall performed inline or
// by the backend's error/hangup event (EPOLLERR, EV_ERROR, select exceptfds).
type ErrConnectionError struct {
	Op  string
	Err error
}

func (e *ErrConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: connection error: %s", Namespace, e.Op, e.Err)
}

func (e *ErrConnectionError) Unwrap() error { return e.Err }

// ErrOperationTimeout is raised in a task when its operation's deadline
// elapses before completion. It carries the operation so callers can
// inspect what timed out.
type ErrOperationTimeout struct {
	Op Operation
}

func (e *ErrOperationTimeout) Error() string {
	return fmt.Sprintf("%s: operation timed out: %s", Namespace, describeOp(e.Op))
}

// ErrOverflow is raised by ReadLine when the configured maximum line length
// is reached without finding a newline.
type ErrOverflow struct {
	Limit int
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("%s: received %d bytes and no linebreak", Namespace, e.Limit)
}

// CoroutineError wraps a panic raised inside a task's body, carrying the
// recovered value and a captured stack trace. It is the scheduler's
// equivalent of a propagated in-task exception. An error the task body
// returns is passed on as it is, not wrapped in a CoroutineError.
type CoroutineError struct {
	Cause     error
	Recovered any
	Stack     []byte
}

func (e *CoroutineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: coroutine error: %s", Namespace, e.Cause)
	}
	return fmt.Sprintf("%s: coroutine panicked: %v", Namespace, e.Recovered)
}

func (e *CoroutineError) Unwrap() error { return e.Cause }

func describeOp(op Operation) string {
	if op == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", op)
}
