//go:build linux
// +build linux

package mux

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-poll-server/log"
)

const (
	readEvents  = unix.POLLIN | unix.POLLPRI
	writeEvents = unix.POLLOUT
)

// Registry is the ordered set of descriptors the readiness loop watches: the
// listening descriptor first, then one entry per active client. It is owned
// and mutated exclusively by the loop goroutine. All lifecycle changes go
// through Commit so the slice is never reshaped while a dispatch pass is
// scanning it.
type Registry struct {
	fds     []unix.PollFd
	lnFd    int
	handler Handler
}

// Open creates the listening descriptor bound to all interfaces on port and
// registers it with read interest. Port 0 asks the kernel for a free port;
// see Port. Every failure aborts startup with a *SetupError naming the
// failing step.
func Open(port int, handler Handler) (*Registry, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &SetupError{Op: "socket", Err: os.NewSyscallError("socket", err)}
	}

	// Rebinding quickly after a restart must not fail with EADDRINUSE.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &SetupError{Op: "setsockopt", Err: os.NewSyscallError("setsockopt", err)}
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, &SetupError{Op: "bind", Err: os.NewSyscallError("bind", err)}
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, &SetupError{Op: "listen", Err: os.NewSyscallError("listen", err)}
	}

	r := &Registry{lnFd: fd, handler: handler}
	r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: readEvents})
	return r, nil
}

// Port reports the bound port, which differs from the requested one when the
// registry was opened with port 0.
func (r *Registry) Port() (int, error) {
	sa, err := unix.Getsockname(r.lnFd)
	if err != nil {
		return 0, os.NewSyscallError("getsockname", err)
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	return inet4.Port, nil
}

// Watched returns the pollfd records for the multiplexing call to block on.
// The returned slice is the registry's own backing store; callers must not
// retain it across a Commit.
func (r *Registry) Watched() []unix.PollFd {
	return r.fds
}

func (r *Registry) Len() int {
	return len(r.fds)
}

// Commit applies one pass's staged lifecycle changes, removals first.
//
// A removal whose last observed flags carried POLLNVAL skips the close call:
// the OS already rejected the descriptor, and the number may have been
// reused for something unrelated. The entry still leaves the registry and
// OnDisconnect still fires, exactly once. Additions are appended with read
// interest and become eligible for readiness starting with the next pass;
// the one-pass delay keeps the scanned collection stable during the scan.
func (r *Registry) Commit(added []int, removed map[int]int16) {
	if len(removed) > 0 {
		kept := r.fds[:0]
		for _, pfd := range r.fds {
			fd := int(pfd.Fd)
			revents, gone := removed[fd]
			if !gone {
				kept = append(kept, pfd)
				continue
			}
			if revents&unix.POLLNVAL == 0 {
				if err := CloseFd(fd); err != nil {
					log.Logger.Error("close error", zap.Int("fd", fd), zap.Error(err))
				}
			}
			disconnectedTotal.Inc()
			r.handler.OnDisconnect(fd)
		}
		r.fds = kept
	}

	for _, fd := range added {
		r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: readEvents})
	}
}

// Teardown closes every descriptor still in the registry, the listener
// included. Used on the fatal-loop-error path.
func (r *Registry) Teardown() error {
	var errs MultiError
	for _, pfd := range r.fds {
		if err := CloseFd(int(pfd.Fd)); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", pfd.Fd, err))
		}
	}
	r.fds = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}
