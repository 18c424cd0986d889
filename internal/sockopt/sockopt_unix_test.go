//go:build unix

package sockopt

import (
	"context"
	"net"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestControl_SetsOptionsOnListener(t *testing.T) {
	lc := net.ListenConfig{Control: Control(Options{ReuseAddr: true, BufferBytes: 64 * 1024})}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = ln.Close() }()

	raw, err := ln.(*net.TCPListener).SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn() error = %v", err)
	}

	var reuse, rcvbuf int
	var getErr error
	err = raw.Control(func(fd uintptr) {
		reuse, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR)
		if getErr != nil {
			return
		}
		rcvbuf, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err != nil || getErr != nil {
		t.Fatalf("getsockopt: %v / %v", err, getErr)
	}

	if reuse == 0 {
		t.Error("SO_REUSEADDR not set")
	}
	// Kernels may round or double the requested size; only a floor is portable.
	if rcvbuf < 4096 {
		t.Errorf("SO_RCVBUF = %d, want a positive buffer", rcvbuf)
	}
}

func TestControl_NoOptions(t *testing.T) {
	ctl := Control(Options{})
	lc := net.ListenConfig{Control: func(network, address string, c syscall.RawConn) error {
		return ctl(network, address, c)
	}}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	_ = ln.Close()
}
