//go:build linux
// +build linux

package mux

import (
	"net"

	"golang.org/x/sys/unix"
)

// isFDValid probes fd with fcntl. A closed or reused descriptor fails F_GETFD.
func isFDValid(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseFd closes fd only if the OS still recognizes it. Closing an invalid
// or reused descriptor number can tear down an unrelated descriptor.
func CloseFd(fd int) error {
	if isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return err
		}
	}
	return nil
}

func sockaddrIP(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]).String()
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String()
	default:
		return ""
	}
}
