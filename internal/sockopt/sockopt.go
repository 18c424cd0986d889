// Package sockopt applies socket options to tunnel listeners and upstream dials.
package sockopt

import "syscall"

// ControlFunc matches the Control hook of net.ListenConfig and net.Dialer.
type ControlFunc func(network, address string, c syscall.RawConn) error

// Options selects the socket options to apply.
type Options struct {
	// ReuseAddr sets SO_REUSEADDR, relevant for listening sockets only.
	ReuseAddr bool
	// BufferBytes sets SO_RCVBUF and SO_SNDBUF when positive.
	BufferBytes int
}

// Control returns a hook applying o to every socket before bind or connect.
func Control(o Options) ControlFunc {
	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = apply(fd, o)
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
