//go:build unix

package cogen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	b, err := Poll()
	require.NoError(t, err)
	return New(WithBackend(b))
}

func TestSchedulerSleepOrdering(t *testing.T) {
	sched := newTestScheduler(t)

	var mu sync.Mutex
	var order []int

	spawn := func(id int, d time.Duration) {
		sched.Add(func(self *Task) (any, error) {
			_, err := self.Yield(Sleep(d))
			require.NoError(t, err)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}, false)
	}

	spawn(1, 20*time.Millisecond)
	spawn(2, 3*time.Millisecond)
	spawn(3, 10*time.Millisecond)

	sched.Run()

	require.Equal(t, []int{2, 3, 1}, order)
}

func TestSchedulerSignalFanOut(t *testing.T) {
	sched := newTestScheduler(t)

	var mu sync.Mutex
	woken := 0

	for i := 0; i < 5; i++ {
		sched.Add(func(self *Task) (any, error) {
			v, err := self.Yield(WaitForSignal("ready"))
			if err != nil {
				return nil, err
			}
			mu.Lock()
			if v == "go" {
				woken++
			}
			mu.Unlock()
			return nil, nil
		}, false)
	}

	sched.Add(func(self *Task) (any, error) {
		_, err := self.Yield(Sleep(5 * time.Millisecond))
		require.NoError(t, err)
		_, err = self.Yield(Signal("ready", "go", 3))
		return nil, err
	}, false)

	sched.Run()

	require.Equal(t, 3, woken)
	require.Equal(t, 2, sched.signals.len(), "two waiters remain unsignaled")
}

func TestSchedulerJoinReturnsCalleeResult(t *testing.T) {
	sched := newTestScheduler(t)

	var result any
	var joinErr error
	done := make(chan struct{})

	callee := sched.Add(func(self *Task) (any, error) {
		_, err := self.Yield(Sleep(2 * time.Millisecond))
		return "callee-result", err
	}, false)

	sched.Add(func(self *Task) (any, error) {
		v, err := self.Yield(Join(callee))
		result, joinErr = v, err
		close(done)
		return nil, nil
	}, false)

	sched.Run()

	<-done
	require.NoError(t, joinErr)
	require.Equal(t, "callee-result", result)
}

func TestSchedulerOperationTimeout(t *testing.T) {
	sched := newTestScheduler(t)

	listenerFD, err := listenTCP("127.0.0.1:0")
	require.NoError(t, err)
	listener := NewSocket(listenerFD)
	defer listener.Close()

	// Nothing ever connects, so Accept must time out rather than hang.
	var gotErr error
	started := time.Now()
	sched.Add(func(self *Task) (any, error) {
		acceptOp := Accept(listener, WithTimeout(100*time.Millisecond))
		_, err := self.Yield(acceptOp)
		gotErr = err
		return nil, nil
	}, false)

	sched.Run()
	elapsed := time.Since(started)

	var timeoutErr *ErrOperationTimeout
	require.ErrorAs(t, gotErr, &timeoutErr)
	require.GreaterOrEqual(t, elapsed, 95*time.Millisecond)
	require.Less(t, elapsed, 400*time.Millisecond)
}

// TestSchedulerDefaultTimeoutAppliesToNewSocket checks that
// WithDefaultTimeout reaches sockets built through Scheduler.NewSocket,
// and that an accepted connection inherits its listener's timeout.
func TestSchedulerDefaultTimeoutAppliesToNewSocket(t *testing.T) {
	b, err := Poll()
	require.NoError(t, err)
	sched := New(WithBackend(b), WithDefaultTimeout(50*time.Millisecond))

	listenerFD, err := listenTCP("127.0.0.1:0")
	require.NoError(t, err)
	listener := sched.NewSocket(listenerFD)
	defer listener.Close()

	require.Equal(t, 50*time.Millisecond, listener.timeout)

	// Nothing ever connects, so Accept must time out on the default alone.
	var gotErr error
	started := time.Now()
	sched.Add(func(self *Task) (any, error) {
		_, err := self.Yield(Accept(listener))
		gotErr = err
		return nil, nil
	}, false)

	sched.Run()
	elapsed := time.Since(started)

	var timeoutErr *ErrOperationTimeout
	require.ErrorAs(t, gotErr, &timeoutErr)
	require.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	require.Less(t, elapsed, 400*time.Millisecond)
}

// TestSchedulerRunReturnsPromptlyAfterEarlyCompletion guards against a
// stale, already-finalized timeout entry keeping Run blocked until its
// original deadline: an operation that resolves almost immediately but
// carries a long timeout must not hold the loop open anywhere near it.
func TestSchedulerRunReturnsPromptlyAfterEarlyCompletion(t *testing.T) {
	const addr = "127.0.0.1:18736"

	sched := newTestScheduler(t)

	listenerFD, err := listenTCP(addr)
	require.NoError(t, err)
	listener := NewSocket(listenerFD)
	defer listener.Close()

	sched.Add(func(self *Task) (any, error) {
		v, err := self.Yield(Accept(listener))
		require.NoError(t, err)
		conn := v.(*AcceptOp).Conn

		_, err = self.Yield(Read(conn, 32, WithTimeout(5*time.Second)))
		require.NoError(t, err)
		return nil, conn.Close()
	}, false)

	sched.Add(func(self *Task) (any, error) {
		clientFD, err := dialTCP(addr)
		require.NoError(t, err)
		client := NewSocket(clientFD)

		_, err = self.Yield(Connect(client))
		require.NoError(t, err)
		_, err = self.Yield(WriteAll(client, []byte("hi")))
		require.NoError(t, err)
		return nil, client.Close()
	}, false)

	started := time.Now()
	sched.Run()
	elapsed := time.Since(started)

	require.Less(t, elapsed, 400*time.Millisecond, "Run must not wait out the stale 5s timeout")
}
