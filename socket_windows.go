//go:build windows

package cogen

import (
	"net"
	"strconv"

	"golang.org/x/sys/windows"
)

func sockClose(fd int) error {
	return windows.Closesocket(windows.Handle(fd))
}

func setNonblocking(fd int) error {
	return windows.SetNonblock(windows.Handle(fd), true)
}

func listenTCP(addr string) (int, error) {
	ip, port, err := parseIPPort(addr)
	if err != nil {
		return -1, err
	}
	domain := windows.AF_INET
	if ip.To4() == nil {
		domain = windows.AF_INET6
	}
	fd, err := windows.Socket(domain, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	_ = windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	sa, err := sockaddr(ip, port)
	if err != nil {
		windows.Closesocket(fd)
		return -1, err
	}
	if err := windows.Bind(fd, sa); err != nil {
		windows.Closesocket(fd)
		return -1, err
	}
	if err := windows.Listen(fd, 1024); err != nil {
		windows.Closesocket(fd)
		return -1, err
	}
	return int(fd), nil
}

func dialTCP(addr string) (int, error) {
	ip, port, err := parseIPPort(addr)
	if err != nil {
		return -1, err
	}
	domain := windows.AF_INET
	if ip.To4() == nil {
		domain = windows.AF_INET6
	}
	fd, err := windows.Socket(domain, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	sa, err := sockaddr(ip, port)
	if err != nil {
		windows.Closesocket(fd)
		return -1, err
	}
	// A plain connect on a socket left in blocking mode: it returns once
	// the connection is established or has failed. backend_iocp.go has no
	// ConnectEx path; this is the only connect used on Windows.
	if err := windows.Connect(fd, sa); err != nil {
		windows.Closesocket(fd)
		return -1, err
	}
	return int(fd), nil
}

func sockaddr(ip net.IP, port int) (windows.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		var a [4]byte
		copy(a[:], v4)
		return &windows.SockaddrInet4{Port: port, Addr: a}, nil
	}
	var a [16]byte
	copy(a[:], ip.To16())
	return &windows.SockaddrInet6{Port: port, Addr: a}, nil
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

func sockRecv(fd int, buf []byte) (int, error) {
	n, err := windows.Read(windows.Handle(fd), buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &ErrConnectionClosed{Op: "read"}
	}
	return n, nil
}

func sockSend(fd int, buf []byte) (int, error) {
	n, err := windows.Write(windows.Handle(fd), buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func sockAccept(fd int) (int, string, error) {
	nfd, sa, err := windows.Accept(windows.Handle(fd))
	if err != nil {
		return -1, "", err
	}
	return int(nfd), sockaddrString(sa), nil
}

func sockConnectError(fd int) error {
	errno, err := windows.GetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return windows.Errno(errno)
	}
	return nil
}

func sockaddrString(sa windows.Sockaddr) string {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *windows.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}

// sockSendfile has no TransmitFile-backed fast path wired yet; SendFileOp
// falls back to a read/write loop on Windows (see socket_ops.go).
func sockSendfile(dstFd, srcFd int, offset *int64, count int) (int, error) {
	return 0, windows.WSAEOPNOTSUPP
}

func isTemporary(err error) bool {
	return err == windows.WSAEWOULDBLOCK
}
