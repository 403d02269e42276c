//go:build unix

package cogen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSchedulerEchoServer exercises the full accept/read/write path over a
// real loopback TCP connection, driven end to end by the scheduler.
func TestSchedulerEchoServer(t *testing.T) {
	const addr = "127.0.0.1:18734"

	sched := newTestScheduler(t)

	listenerFD, err := listenTCP(addr)
	require.NoError(t, err)
	listener := NewSocket(listenerFD)

	received := make(chan string, 1)

	sched.Add(func(self *Task) (any, error) {
		v, err := self.Yield(Accept(listener))
		require.NoError(t, err)
		conn := v.(*AcceptOp).Conn

		v, err = self.Yield(ReadLine(conn, 256))
		require.NoError(t, err)
		line := v.(*ReadLineOp).Result
		received <- string(line)

		_, err = self.Yield(WriteAll(conn, line))
		require.NoError(t, err)
		return nil, conn.Close()
	}, false)

	sched.Add(func(self *Task) (any, error) {
		// Give the acceptor a moment to register before dialing.
		_, err := self.Yield(Sleep(5 * time.Millisecond))
		require.NoError(t, err)

		clientFD, err := dialTCP(addr)
		require.NoError(t, err)
		client := NewSocket(clientFD)

		_, err = self.Yield(Connect(client))
		require.NoError(t, err)

		_, err = self.Yield(WriteAll(client, []byte("hello cogen\n")))
		require.NoError(t, err)

		v, err := self.Yield(ReadLine(client, 256))
		require.NoError(t, err)
		echoed := v.(*ReadLineOp).Result
		require.Equal(t, "hello cogen\n", string(echoed))
		return nil, client.Close()
	}, false)

	sched.Run()

	require.Equal(t, "hello cogen\n", <-received)
	require.NoError(t, listener.Close())
}
