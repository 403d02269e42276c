//go:build unix

package cogen

import (
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// sockClose closes fd directly rather than wrapping net.Conn.
func sockClose(fd int) error {
	return unix.Close(fd)
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// listenTCP creates a non-blocking, SO_REUSEADDR/SO_REUSEPORT listening
// socket bound to addr (grounded on aio/tcp_listener.go's listen()).
func listenTCP(addr string) (int, error) {
	ip, port, err := parseIPPort(addr)
	if err != nil {
		return -1, err
	}
	domain := unix.AF_INET
	if ip.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	sa, err := sockaddr(ip, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// dialTCP starts a non-blocking connect, returning before it necessarily
// completes; ConnectOp.tryRun polls completion via getsockopt(SO_ERROR).
func dialTCP(addr string) (int, error) {
	ip, port, err := parseIPPort(addr)
	if err != nil {
		return -1, err
	}
	domain := unix.AF_INET
	if ip.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa, err := sockaddr(ip, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sockaddr(ip net.IP, port int) (unix.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		var a [4]byte
		copy(a[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: a}, nil
	}
	var a [16]byte
	copy(a[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: a}, nil
}

func parseIPPort(addr string) (net.IP, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, 0, err
		}
		ip = ips[0]
	}
	return ip, port, nil
}

// sockRecv performs one non-blocking read. It returns (0,
// ErrConnectionClosed) on an orderly peer shutdown: an empty read always
// signals a closed connection.
func sockRecv(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &ErrConnectionClosed{Op: "read"}
	}
	return n, nil
}

func sockSend(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if err == unix.EPIPE {
			return 0, &ErrConnectionClosed{Op: "write", Err: err}
		}
		return 0, err
	}
	return n, nil
}

func sockAccept(fd int) (int, string, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, "", err
	}
	if err := setNonblocking(nfd); err != nil {
		unix.Close(nfd)
		return -1, "", err
	}
	return nfd, sockaddrString(sa), nil
}

func sockConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}

// sockSendfile transfers up to count bytes from srcFd to dstFd starting at
// *offset, advancing *offset by the amount actually transferred.
func sockSendfile(dstFd, srcFd int, offset *int64, count int) (int, error) {
	return unix.Sendfile(dstFd, srcFd, offset, count)
}

func isTemporary(err error) bool {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return true
	}
	return strings.Contains(err.Error(), "resource temporarily unavailable")
}
