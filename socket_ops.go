package cogen

import (
	"io"
	"os"
	"time"
)

const defaultReadSize = 4096

// SocketOperation is the subset of Operation the backends know how to
// register and drive. Readiness backends call tryRun each
// time the socket becomes ready; the completion backend instead posts a
// buffer up front and calls tryRun once with the delivered byte count
// already applied via an iocpOperation hook.
type SocketOperation interface {
	Operation
	socket() *Socket
	// tryRun attempts to make progress without blocking. done=true means
	// the operation is finished (err may still be non-nil: a failed
	// operation is also "done"). done=false, err=nil means "would block,
	// keep the registration". reactor is true for readiness backends and
	// false when driven by a completion backend.
	tryRun(reactor bool) (done bool, err error)
	// wantsRead reports which readiness direction the op needs; ignored
	// by the completion backend.
	wantsRead() bool
}

// iocpOperation is implemented by ops that need to post a buffer to the
// kernel before the completion fires and consume the transferred byte
// count afterward.
type iocpOperation interface {
	SocketOperation
	// prepareIOCP returns the buffer the backend should post to the
	// kernel (a read destination, or the bytes to send).
	prepareIOCP() []byte
	// completeIOCP reports how much of buf (the same slice prepareIOCP
	// returned) was transferred, or the syscall error.
	completeIOCP(buf []byte, n int, err error) error
}

type opSocketBase struct {
	OpBase
	Sock *Socket
}

func (o *opSocketBase) socket() *Socket { return o.Sock }

func newOpSocketBase(sock *Socket, opts []OpOption) opSocketBase {
	return opSocketBase{OpBase: newOpBase(sock.defaultOpts(opts)), Sock: sock}
}

// ReadOp reads up to Size bytes (defaultReadSize if Size <= 0), returning
// whatever is available rather than waiting to fill the buffer: the
// "partial read" member of the family, matching sockets.py's Read.
type ReadOp struct {
	opSocketBase
	Size   int
	Result []byte
}

// Read builds an operation that resumes with up to size bytes.
func Read(sock *Socket, size int, opts ...OpOption) *ReadOp {
	return &ReadOp{opSocketBase: newOpSocketBase(sock, opts), Size: size}
}

func (o *ReadOp) wantsRead() bool { return true }

func (o *ReadOp) tryRun(reactor bool) (bool, error) {
	size := o.Size
	if size <= 0 {
		size = defaultReadSize
	}
	if len(o.Sock.rlPending) > 0 {
		n := size
		if n > len(o.Sock.rlPending) {
			n = len(o.Sock.rlPending)
		}
		o.Result = o.Sock.rlPending[:n]
		o.Sock.rlPending = o.Sock.rlPending[n:]
		o.LastUpdate = time.Now()
		return true, nil
	}
	buf := make([]byte, size)
	n, err := sockRecv(o.Sock.fd, buf)
	if err != nil {
		if isTemporary(err) {
			return false, nil
		}
		return true, wrapSockErr("read", err)
	}
	o.Result = buf[:n]
	o.LastUpdate = time.Now()
	return true, nil
}

// prepareIOCP/completeIOCP let a completion backend (IOCP, io_uring) post
// ReadOp's buffer straight to the kernel instead of driving it through
// repeated tryRun(true) polling.
func (o *ReadOp) prepareIOCP() []byte {
	size := o.Size
	if size <= 0 {
		size = defaultReadSize
	}
	return make([]byte, size)
}

func (o *ReadOp) completeIOCP(buf []byte, n int, err error) error {
	if err != nil {
		return wrapSockErr("read", err)
	}
	if n == 0 {
		return &ErrConnectionClosed{Op: "read"}
	}
	o.Result = buf[:n]
	o.LastUpdate = time.Now()
	return nil
}

// ReadAllOp accumulates exactly Size bytes across as many non-blocking
// reads as it takes, coalescing runs in Sock.rlList the way sockets.py's
// handle_read does, and pushing any read-ahead past Size back into
// Sock.rlPending for the next operation.
type ReadAllOp struct {
	opSocketBase
	Size   int
	Result []byte
}

// ReadAll builds an operation that resumes only once exactly size bytes
// have been read (or the connection closes early, which is an error).
func ReadAll(sock *Socket, size int, opts ...OpOption) *ReadAllOp {
	return &ReadAllOp{opSocketBase: newOpSocketBase(sock, opts), Size: size}
}

func (o *ReadAllOp) wantsRead() bool { return true }

func (o *ReadAllOp) tryRun(reactor bool) (bool, error) {
	if len(o.Sock.rlPending) > 0 {
		o.Sock.rlAppend(o.Sock.rlPending)
		o.Sock.rlPending = nil
	}
	for o.Sock.rlListSz < o.Size {
		buf := make([]byte, o.Size-o.Sock.rlListSz)
		n, err := sockRecv(o.Sock.fd, buf)
		if err != nil {
			if isTemporary(err) {
				return false, nil
			}
			o.Sock.rlReset()
			return true, wrapSockErr("readall", err)
		}
		o.Sock.rlAppend(buf[:n])
		o.LastUpdate = time.Now()
	}
	o.Sock.rlCoalesce()
	// rlPending now holds exactly what was read, which may exceed Size if
	// a prior operation had left a larger run pending; reslice and push
	// the remainder back, mirroring sockets.py's "rl_list_sz > size"
	// branch (join the whole list, then cut at the requested boundary).
	all := o.Sock.rlPending
	o.Result = all[:o.Size]
	o.Sock.rlPending = all[o.Size:]
	return true, nil
}

// ReadLineOp reads until Delim (default "\n") is found or Size bytes have
// been consumed without finding it, in which case it fails with
// ErrOverflow. Matches sockets.py: both the newly read chunk and the
// accumulated total are checked against the limit before either is
// appended.
type ReadLineOp struct {
	opSocketBase
	Size   int
	Delim  byte
	Result []byte
}

// ReadLine builds an operation that resumes with one delimited line,
// delimiter included, once found within size bytes.
func ReadLine(sock *Socket, size int, opts ...OpOption) *ReadLineOp {
	return &ReadLineOp{opSocketBase: newOpSocketBase(sock, opts), Size: size, Delim: '\n'}
}

func (o *ReadLineOp) wantsRead() bool { return true }

func (o *ReadLineOp) tryRun(reactor bool) (bool, error) {
	if len(o.Sock.rlPending) > 0 {
		chunk := o.Sock.rlPending
		o.Sock.rlPending = nil
		if done, err := o.consume(chunk); done {
			return true, err
		}
	}
	for {
		remaining := o.Size - o.Sock.rlListSz
		if remaining <= 0 {
			o.Sock.rlReset()
			return true, &ErrOverflow{Limit: o.Size}
		}
		buf := make([]byte, min(defaultReadSize, remaining))
		n, err := sockRecv(o.Sock.fd, buf)
		if err != nil {
			if isTemporary(err) {
				return false, nil
			}
			o.Sock.rlReset()
			return true, wrapSockErr("readline", err)
		}
		o.LastUpdate = time.Now()
		if done, rerr := o.consume(buf[:n]); done {
			return true, rerr
		}
	}
}

// consume scans chunk for the delimiter. If found, it finalizes Result and
// returns done=true. Otherwise it appends chunk to rlList (after the
// per-chunk and accumulated overflow checks) and returns done=false.
func (o *ReadLineOp) consume(chunk []byte) (bool, error) {
	if i := indexByte(chunk, o.Delim); i >= 0 {
		o.Result = rlJoin(o.Sock.rlList, chunk[:i+1])
		o.Sock.rlList = nil
		o.Sock.rlListSz = 0
		o.Sock.rlPending = chunk[i+1:]
		return true, nil
	}
	if o.Sock.rlListSz+len(chunk) > o.Size {
		o.Sock.rlReset()
		return true, &ErrOverflow{Limit: o.Size}
	}
	o.Sock.rlAppend(chunk)
	return false, nil
}

// WriteOp performs a single non-blocking send and resumes with however
// many bytes actually went out, matching sockets.py's Write (a thin,
// possibly-partial wrapper around send()).
type WriteOp struct {
	opSocketBase
	Data    []byte
	Written int
}

// Write builds an operation that resumes once at least one byte of data
// has been accepted by the socket buffer.
func Write(sock *Socket, data []byte, opts ...OpOption) *WriteOp {
	return &WriteOp{opSocketBase: newOpSocketBase(sock, opts), Data: data}
}

func (o *WriteOp) wantsRead() bool { return false }

func (o *WriteOp) tryRun(reactor bool) (bool, error) {
	n, err := sockSend(o.Sock.fd, o.Data)
	if err != nil {
		if isTemporary(err) {
			return false, nil
		}
		return true, wrapSockErr("write", err)
	}
	o.Written = n
	o.LastUpdate = time.Now()
	return true, nil
}

func (o *WriteOp) prepareIOCP() []byte { return o.Data }

func (o *WriteOp) completeIOCP(buf []byte, n int, err error) error {
	if err != nil {
		return wrapSockErr("write", err)
	}
	o.Written = n
	o.LastUpdate = time.Now()
	return nil
}

// WriteAllOp loops sends until every byte of Data has been accepted,
// advancing Sent across however many readiness notifications it takes.
type WriteAllOp struct {
	opSocketBase
	Data []byte
	Sent int
}

// WriteAll builds an operation that resumes only once all of data has
// been written.
func WriteAll(sock *Socket, data []byte, opts ...OpOption) *WriteAllOp {
	return &WriteAllOp{opSocketBase: newOpSocketBase(sock, opts), Data: data}
}

func (o *WriteAllOp) wantsRead() bool { return false }

func (o *WriteAllOp) tryRun(reactor bool) (bool, error) {
	for o.Sent < len(o.Data) {
		n, err := sockSend(o.Sock.fd, o.Data[o.Sent:])
		if err != nil {
			if isTemporary(err) {
				return false, nil
			}
			return true, wrapSockErr("writeall", err)
		}
		o.Sent += n
		o.LastUpdate = time.Now()
	}
	return true, nil
}

// AcceptOp resumes with a new Socket wrapping the accepted connection and
// the peer's address string.
type AcceptOp struct {
	opSocketBase
	Conn *Socket
	Addr string
}

// Accept builds an operation that resumes with the next inbound
// connection on a listening socket.
func Accept(sock *Socket, opts ...OpOption) *AcceptOp {
	return &AcceptOp{opSocketBase: newOpSocketBase(sock, opts)}
}

func (o *AcceptOp) wantsRead() bool { return true }

func (o *AcceptOp) tryRun(reactor bool) (bool, error) {
	fd, addr, err := sockAccept(o.Sock.fd)
	if err != nil {
		if isTemporary(err) {
			return false, nil
		}
		return true, wrapSockErr("accept", err)
	}
	o.Conn = NewSocket(fd)
	o.Conn.timeout = o.Sock.timeout
	o.Addr = addr
	o.LastUpdate = time.Now()
	return true, nil
}

// ConnectOp resumes once a non-blocking connect started by dialTCP either
// succeeds or fails.
type ConnectOp struct {
	opSocketBase
}

// Connect builds an operation that resumes once the in-progress connect
// on sock completes.
func Connect(sock *Socket, opts ...OpOption) *ConnectOp {
	return &ConnectOp{opSocketBase: newOpSocketBase(sock, opts)}
}

func (o *ConnectOp) wantsRead() bool { return false }

func (o *ConnectOp) tryRun(reactor bool) (bool, error) {
	if err := sockConnectError(o.Sock.fd); err != nil {
		return true, wrapSockErr("connect", err)
	}
	o.LastUpdate = time.Now()
	return true, nil
}

// SendFileOp streams Count bytes from the file at Path, starting at
// Offset, directly to the socket. On unix it uses sendfile(2) via
// sockSendfile; other platforms fall back to a buffered copy loop.
type SendFileOp struct {
	opSocketBase
	Path   string
	Offset int64
	Count  int64
	Sent   int64

	file *os.File
}

// SendFile builds an operation that resumes once count bytes of the named
// file have been transmitted.
func SendFile(sock *Socket, path string, offset, count int64, opts ...OpOption) *SendFileOp {
	return &SendFileOp{opSocketBase: newOpSocketBase(sock, opts), Path: path, Offset: offset, Count: count}
}

func (o *SendFileOp) wantsRead() bool { return false }

func (o *SendFileOp) tryRun(reactor bool) (bool, error) {
	if o.file == nil {
		f, err := os.Open(o.Path)
		if err != nil {
			return true, err
		}
		o.file = f
	}
	for o.Sent < o.Count {
		remaining := int(o.Count - o.Sent)
		off := o.Offset + o.Sent
		n, err := sockSendfile(o.Sock.fd, int(o.file.Fd()), &off, remaining)
		if err != nil {
			if isTemporary(err) {
				return false, nil
			}
			if n == 0 {
				n2, cerr := o.copyFallback(remaining)
				if cerr != nil {
					if isTemporary(cerr) {
						return false, nil
					}
					o.file.Close()
					return true, wrapSockErr("sendfile", cerr)
				}
				o.Sent += int64(n2)
				o.LastUpdate = time.Now()
				continue
			}
			o.file.Close()
			return true, wrapSockErr("sendfile", err)
		}
		if n == 0 {
			break
		}
		o.Sent += int64(n)
		o.LastUpdate = time.Now()
	}
	o.file.Close()
	return true, nil
}

// copyFallback handles platforms where sockSendfile is unimplemented
// (socket_windows.go's stub returns WSAEOPNOTSUPP).
func (o *SendFileOp) copyFallback(max int) (int, error) {
	buf := make([]byte, min(defaultReadSize, max))
	n, err := o.file.ReadAt(buf, o.Offset+o.Sent)
	if err != nil && err != io.EOF {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	sent, werr := sockSend(o.Sock.fd, buf[:n])
	return sent, werr
}

func wrapSockErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*ErrConnectionClosed); ok {
		ce.Op = op
		return ce
	}
	return &ErrConnectionError{Op: op, Err: err}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
