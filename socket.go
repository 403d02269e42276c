package cogen

import "time"

// Socket wraps a non-blocking OS socket with the buffering state the
// Read/ReadAll/ReadLine family needs. Exactly one read-family and one
// write-family operation may be registered with the backend for a given
// socket at any moment. Socket itself does not check this; the readiness
// backends do, through backendCore.put, which panics on a second
// registration of the same direction. The IOCP and io_uring backends do
// not check it.
type Socket struct {
	fd int

	// rlPending is a byte run already read from the kernel but not yet
	// consumed by any ReadLine/ReadAll newline search.
	rlPending []byte
	// rlList is the ordered list of byte runs accumulated so far for the
	// in-progress ReadAll/ReadLine; rlListSz is the cached sum of their
	// lengths, kept in lockstep.
	rlList   [][]byte
	rlListSz int

	timeout time.Duration

	// token is an opaque backend-private registration token. Only the
	// active Backend implementation interprets it.
	token any

	closed bool
}

// NewSocket wraps an already-created, already-non-blocking fd. Use
// listenTCP/dialTCP-style helpers (see socket_unix.go / socket_windows.go)
// to obtain fd values; Socket itself never calls socket(2)/connect(2)
// directly in order to stay backend-agnostic. The returned Socket has no
// timeout set; prefer Scheduler.NewSocket so it picks up the scheduler's
// default.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int { return s.fd }

// SetTimeout sets the default timeout applied to operations built on this
// socket (Read, Write, Accept, ...) when they don't pass WithTimeout
// explicitly.
func (s *Socket) SetTimeout(d time.Duration) { s.timeout = d }

func (s *Socket) defaultOpts(opts []OpOption) []OpOption {
	if s.timeout > 0 {
		return append([]OpOption{WithTimeout(s.timeout)}, opts...)
	}
	return opts
}

// rlCoalesce merges rlList back into rlPending, clearing rlList and
// rlListSz, preserving the invariant rlListSz == sum(len(b) for b in
// rlList) by construction (never merging without also zeroing rlListSz).
func (s *Socket) rlCoalesce() {
	if len(s.rlList) == 0 {
		return
	}
	s.rlPending = rlJoin(s.rlList, s.rlPending)
	s.rlList = nil
	s.rlListSz = 0
}

// rlJoin concatenates list followed by tail into one buffer.
func rlJoin(list [][]byte, tail []byte) []byte {
	n := len(tail)
	for _, b := range list {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range list {
		out = append(out, b...)
	}
	out = append(out, tail...)
	return out
}

func (s *Socket) rlAppend(b []byte) {
	s.rlList = append(s.rlList, b)
	s.rlListSz += len(b)
}

func (s *Socket) rlReset() {
	s.rlList = nil
	s.rlListSz = 0
	s.rlPending = nil
}

// Close releases the fd. It does not unregister the socket from any
// backend; callers must ensure no operation is pending first, the same
// contract Scheduler.Stop leans on for its own outstanding operations.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return sockClose(s.fd)
}
