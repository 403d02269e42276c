package cogen

// Priority is a pair of independent scheduling bits attached to an
// operation. Their combination gives four dispatch modes: latency-first,
// throughput-first, fair, and urgent.
type Priority uint8

const (
	// PrioNone re-queues the completed task at the back of the ready
	// queue (fair, default) and never feeds results in without a
	// round-trip through the ready queue.
	PrioNone Priority = 0

	// PrioOP feeds a completed operation's result straight back into its
	// task without going through the ready queue, and keeps draining
	// whatever that task yields next in a tight inner loop before
	// returning control to the main scheduler loop.
	PrioOP Priority = 1 << 0

	// PrioCORO re-queues the resumed task at the front of the ready
	// queue (LIFO-favored) instead of the back.
	PrioCORO Priority = 1 << 1
)

// Last is the default priority used when a caller does not specify one:
// fair, back-of-queue scheduling with no inline dispatch.
const Last = PrioNone

func (p Priority) hasOP() bool   { return p&PrioOP != 0 }
func (p Priority) hasCORO() bool { return p&PrioCORO != 0 }
