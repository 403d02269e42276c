package cogen

import (
	"container/heap"
	"time"
)

// sleepEntry parks a task asleep until WakeAt. Task is referenced through
// a generational Handle rather than a direct pointer: a task that has
// already terminated and had its slot released resolves to ok=false
// instead of keeping the Task reachable from the heap.
type sleepEntry struct {
	wakeAt time.Time
	seq    uint64
	task   Handle
}

type sleepHeap []sleepEntry

func (h sleepHeap) Len() int { return len(h) }
func (h sleepHeap) Less(i, j int) bool {
	if h[i].wakeAt.Equal(h[j].wakeAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].wakeAt.Before(h[j].wakeAt)
}
func (h sleepHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sleepHeap) Push(x any)   { *h = append(*h, x.(sleepEntry)) }
func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// timeoutEntry is a pending operation deadline. delta and lastCheckpoint
// implement weak-timeout extension: each time the op makes partial
// progress (op.LastUpdate advances past lastCheckpoint), the entry is
// re-pushed with a fresh deadline instead of firing.
type timeoutEntry struct {
	deadline       time.Time
	seq            uint64
	weak           bool
	delta          time.Duration
	lastCheckpoint time.Time
	task           Handle
	op             Handle
}

type timeoutHeap []timeoutEntry

func (h timeoutHeap) Len() int { return len(h) }
func (h timeoutHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timeoutHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timeoutHeap) Push(x any)   { *h = append(*h, x.(timeoutEntry)) }
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// timerStore owns both min-heaps plus the slabs that back their weak
// references.
type timerStore struct {
	sleeps   sleepHeap
	timeouts timeoutHeap
	tasks    *slab[*Task]
	ops      *slab[Operation]
	seq      uint64
}

func newTimerStore() *timerStore {
	return &timerStore{
		tasks: newSlab[*Task](),
		ops:   newSlab[Operation](),
	}
}

func (s *timerStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *timerStore) pushSleep(task *Task, wakeAt time.Time) {
	heap.Push(&s.sleeps, sleepEntry{
		wakeAt: wakeAt,
		seq:    s.nextSeq(),
		task:   s.tasks.Acquire(task),
	})
}

func (s *timerStore) pushTimeout(task *Task, op Operation, deadline time.Time, weak bool) {
	b := op.base()
	now := time.Now()
	delta := deadline.Sub(now)
	heap.Push(&s.timeouts, timeoutEntry{
		deadline:       deadline,
		seq:            s.nextSeq(),
		weak:           weak,
		delta:          delta,
		lastCheckpoint: now,
		task:           s.tasks.Acquire(task),
		op:             s.ops.Acquire(op),
	})
	_ = b
}

// drainSleeps pops every sleep entry whose deadline has passed and returns
// the tasks to re-queue, in deadline order (ties broken by insertion
// order).
func (s *timerStore) drainSleeps(now time.Time) []*Task {
	var woken []*Task
	for s.sleeps.Len() > 0 && !s.sleeps[0].wakeAt.After(now) {
		entry := heap.Pop(&s.sleeps).(sleepEntry)
		if t, ok := s.tasks.Get(entry.task); ok {
			woken = append(woken, t)
		}
		s.tasks.Release(entry.task)
	}
	return woken
}

func (s *timerStore) nextSleepDeadline() (time.Time, bool) {
	if s.sleeps.Len() == 0 {
		return time.Time{}, false
	}
	return s.sleeps[0].wakeAt, true
}

// timedOut describes one timeout entry whose deadline has passed and that
// needs the scheduler to forcibly cancel the op's registration and raise
// ErrOperationTimeout in the task.
type timedOut struct {
	task *Task
	op   Operation
}

// drainTimeouts pops every timeout entry whose deadline has passed.
// Weak-timeout entries that saw progress since lastCheckpoint are
// extended and re-pushed instead of being returned.
func (s *timerStore) drainTimeouts(now time.Time) []timedOut {
	var fired []timedOut
	for s.timeouts.Len() > 0 && !s.timeouts[0].deadline.After(now) {
		entry := heap.Pop(&s.timeouts).(timeoutEntry)
		op, opOK := s.ops.Get(entry.op)
		task, taskOK := s.tasks.Get(entry.task)
		if !opOK {
			s.tasks.Release(entry.task)
			continue
		}
		b := op.base()
		if entry.weak && !b.LastUpdate.IsZero() && b.LastUpdate.After(entry.lastCheckpoint) {
			entry.lastCheckpoint = b.LastUpdate
			entry.deadline = entry.lastCheckpoint.Add(entry.delta)
			entry.seq = s.nextSeq()
			heap.Push(&s.timeouts, entry)
			continue
		}
		s.ops.Release(entry.op)
		s.tasks.Release(entry.task)
		if !taskOK || !task.Running() || b.Finalized {
			continue
		}
		fired = append(fired, timedOut{task: task, op: op})
	}
	return fired
}

func (s *timerStore) nextTimeoutDeadline() (time.Time, bool) {
	if s.timeouts.Len() == 0 {
		return time.Time{}, false
	}
	return s.timeouts[0].deadline, true
}

func (s *timerStore) sleepLen() int   { return s.sleeps.Len() }
func (s *timerStore) timeoutLen() int { return s.timeouts.Len() }
