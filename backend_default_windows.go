//go:build windows

package cogen

// defaultBackend picks the IOCP-backed completion backend on Windows.
func defaultBackend() (Backend, error) {
	return IOCP()
}
