package cogen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalRegistryDrainOrderAndCount(t *testing.T) {
	r := newSignalRegistry()

	var tasks []*Task
	for i := 1; i <= 5; i++ {
		tk := newTask(uint64(i), nil, PrioNone)
		tasks = append(tasks, tk)
		r.add(WaitForSignal("ready"), tk)
	}
	require.Equal(t, 5, r.len())

	woken := r.drain("ready", 3)
	require.Len(t, woken, 3)
	for i, w := range woken {
		require.Equal(t, tasks[i], w.task, "waiters must wake in registration order")
	}
	require.Equal(t, 2, r.len())

	rest := r.drain("ready", 0)
	require.Len(t, rest, 2)
	require.Equal(t, 0, r.len())
}

func TestSignalRegistryRemove(t *testing.T) {
	r := newSignalRegistry()
	tk := newTask(1, nil, PrioNone)
	op := WaitForSignal("x")
	r.add(op, tk)

	require.True(t, r.remove("x", tk))
	require.Equal(t, 0, r.len())
	require.False(t, r.remove("x", tk), "removing twice reports false")
}
