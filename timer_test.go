package cogen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDrainSleepsOrdersByWakeAt(t *testing.T) {
	s := newTimerStore()
	base := time.Now()

	t3 := newTask(3, nil, PrioNone)
	t1 := newTask(1, nil, PrioNone)
	t2 := newTask(2, nil, PrioNone)

	s.pushSleep(t3, base.Add(20*time.Millisecond))
	s.pushSleep(t1, base.Add(3*time.Millisecond))
	s.pushSleep(t2, base.Add(10*time.Millisecond))

	woken := s.drainSleeps(base.Add(time.Hour))
	require.Equal(t, []*Task{t1, t2, t3}, woken)
	require.Equal(t, 0, s.sleepLen())
}

func TestDrainSleepsOnlyPopsExpired(t *testing.T) {
	s := newTimerStore()
	base := time.Now()

	soon := newTask(1, nil, PrioNone)
	later := newTask(2, nil, PrioNone)
	s.pushSleep(soon, base.Add(5*time.Millisecond))
	s.pushSleep(later, base.Add(time.Hour))

	woken := s.drainSleeps(base.Add(10 * time.Millisecond))
	require.Equal(t, []*Task{soon}, woken)
	require.Equal(t, 1, s.sleepLen())
}

func TestDrainTimeoutsFiresExpired(t *testing.T) {
	s := newTimerStore()
	base := time.Now()

	task := newTask(1, nil, PrioNone)
	op := Sleep(0) // any Operation works as the timeout's payload
	s.pushTimeout(task, op, base.Add(5*time.Millisecond), false)

	fired := s.drainTimeouts(base.Add(time.Hour))
	require.Len(t, fired, 1)
	require.Equal(t, task, fired[0].task)
	require.Equal(t, op, fired[0].op)
}

func TestWeakTimeoutExtendsOnProgress(t *testing.T) {
	s := newTimerStore()
	base := time.Now()

	task := newTask(1, nil, PrioNone)
	op := Sleep(0)
	s.pushTimeout(task, op, base.Add(10*time.Millisecond), true)

	// Progress recorded after the entry was pushed but before its
	// deadline: the weak timeout must extend instead of firing.
	op.base().LastUpdate = base.Add(8 * time.Millisecond)

	fired := s.drainTimeouts(base.Add(10 * time.Millisecond))
	require.Empty(t, fired, "a weak timeout with recent progress must not fire")
	require.Equal(t, 1, s.timeoutLen())

	fired = s.drainTimeouts(base.Add(25 * time.Millisecond))
	require.Len(t, fired, 1)
}

func TestDrainTimeoutsSkipsFinalizedOp(t *testing.T) {
	s := newTimerStore()
	base := time.Now()

	task := newTask(1, nil, PrioNone)
	op := Sleep(0)
	op.Finalized = true
	s.pushTimeout(task, op, base.Add(time.Millisecond), false)

	fired := s.drainTimeouts(base.Add(time.Hour))
	require.Empty(t, fired, "a finalized operation must not be reported as timed out")
}
