package cogen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskRunOpStepsThroughYields(t *testing.T) {
	tk := newTask(1, func(self *Task) (any, error) {
		v, err := self.Yield(Sleep(0))
		require.NoError(t, err)
		require.Nil(t, v)
		return "done", nil
	}, PrioNone)

	op, done, _, _ := tk.RunOp(Resume{})
	require.False(t, done)
	_, ok := op.(*SleepOp)
	require.True(t, ok)

	op, done, value, err := tk.RunOp(Resume{})
	require.True(t, done)
	require.Nil(t, op)
	require.NoError(t, err)
	require.Equal(t, "done", value)
	require.False(t, tk.Running())
}

func TestTaskPropagatesYieldError(t *testing.T) {
	sentinel := errors.New("boom")
	tk := newTask(1, func(self *Task) (any, error) {
		_, err := self.Yield(Sleep(0))
		return nil, err
	}, PrioNone)

	_, done, _, _ := tk.RunOp(Resume{})
	require.False(t, done)

	_, done, _, err := tk.RunOp(Resume{Err: sentinel})
	require.True(t, done)
	require.Equal(t, sentinel, err)
}

func TestTaskRecoversPanicIntoCoroutineError(t *testing.T) {
	tk := newTask(1, func(self *Task) (any, error) {
		panic("kaboom")
	}, PrioNone)

	_, done, _, err := tk.RunOp(Resume{})
	require.True(t, done)
	var ce *CoroutineError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "kaboom", ce.Recovered)
}
