//go:build linux

package cogen

// defaultBackend picks epoll, the lowest-overhead readiness backend on
// Linux. To opt into the io_uring completion backend instead, construct
// it with IOURing() and pass it to WithBackend.
func defaultBackend() (Backend, error) {
	return Epoll()
}
