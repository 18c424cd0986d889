//go:build unix

package sockopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func apply(fd uintptr, o Options) error {
	if o.ReuseAddr {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	}
	if o.BufferBytes > 0 {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, o.BufferBytes); err != nil {
			return fmt.Errorf("set SO_RCVBUF: %w", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, o.BufferBytes); err != nil {
			return fmt.Errorf("set SO_SNDBUF: %w", err)
		}
	}
	return nil
}
