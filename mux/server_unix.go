//go:build linux
// +build linux

package mux

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-poll-server/log"
)

// ReadBufSize bounds a single read: one readable event yields at most one
// OnData call of at most this many bytes. A peer write larger than this
// arrives across multiple events.
const ReadBufSize = 1024

// Server drives the readiness loop: block in poll(2), make one dispatch
// pass over the descriptors that fired, commit the staged lifecycle
// changes, repeat. A single goroutine owns the loop and the registry;
// handler callbacks run inline within the dispatch pass.
type Server struct {
	registry *Registry
	handler  Handler
	port     int

	// Staged lifecycle changes, cleared at the start of every pass. An fd
	// can never be in both: only registry members are staged for removal,
	// and a freshly accepted fd joins the registry one pass later.
	toAdd    []int
	toRemove map[int]int16

	readBuf [ReadBufSize]byte
}

func NewServer(port int, handler Handler) *Server {
	return &Server{port: port, handler: handler}
}

// Setup opens the listening socket and prepares the registry. It is split
// from Run so callers can learn the bound port before the loop starts.
func (s *Server) Setup() error {
	if s.handler == nil {
		s.handler = NewEchoHandler()
	}

	r, err := Open(s.port, s.handler)
	if err != nil {
		return err
	}
	s.registry = r
	s.toRemove = make(map[int]int16)

	if port, err := r.Port(); err == nil {
		s.port = port
	}
	log.Logger.Info("listening", zap.Int("port", s.port))
	return nil
}

// Port reports the bound port once Setup has run.
func (s *Server) Port() int {
	return s.port
}

// Run blocks driving the loop until the multiplexing call itself fails or
// the listening descriptor dies. There is no graceful shutdown path: the
// loop's only suspension point is poll(2) and its only exits are fatal.
// Whatever the exit, the registry is torn down and every still-open
// descriptor is closed.
func (s *Server) Run() error {
	if s.registry == nil {
		if err := s.Setup(); err != nil {
			return err
		}
	}
	defer func() {
		if err := s.registry.Teardown(); err != nil {
			log.Logger.Error("teardown error", zap.Error(err))
		}
	}()

	for {
		n, err := unix.Poll(s.registry.Watched(), -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < 0 {
			log.Logger.Error("poll error", zap.Error(err))
			return fmt.Errorf("poll: %w", err)
		}

		if err := s.dispatch(); err != nil {
			log.Logger.Error("dispatch error", zap.Error(err))
			return err
		}

		s.registry.Commit(s.toAdd, s.toRemove)
		dispatchPasses.Inc()
	}
}

// dispatch makes one pass over the watched set in registry order. The slice
// is never reshaped here; all lifecycle changes are staged and applied by
// Commit afterwards. A descriptor may report several conditions in the same
// pass, so classification never early-exits the remaining checks -- but once
// a descriptor is staged for removal, its readable flag no longer reaches
// the handler: hangup wins over readable.
//
// Any fault on the listening descriptor is returned as a fatal error, since
// the listening entry can never be removed while the server runs.
func (s *Server) dispatch() error {
	s.toAdd = s.toAdd[:0]
	clear(s.toRemove)

	fds := s.registry.Watched()
	for i := range fds {
		pfd := &fds[i]
		revents := pfd.Revents
		if revents == 0 {
			continue
		}
		pfd.Revents = 0
		fd := int(pfd.Fd)

		if revents&unix.POLLNVAL != 0 {
			// The OS no longer recognizes this descriptor. No close call:
			// the number may already belong to an unrelated descriptor.
			if fd == s.registry.lnFd {
				return fmt.Errorf("listening descriptor %d became invalid", fd)
			}
			log.Logger.Warn("invalid descriptor", zap.Int("fd", fd))
			s.stageRemove(fd, revents)
		}

		if revents&unix.POLLERR != 0 {
			if code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err != nil {
				log.Logger.Error("getsockopt SO_ERROR failed", zap.Int("fd", fd), zap.Error(err))
			} else {
				log.Logger.Error("socket error", zap.Int("fd", fd), zap.Int("code", code))
			}
			if fd == s.registry.lnFd {
				return fmt.Errorf("listening descriptor %d faulted", fd)
			}
			s.stageRemove(fd, revents)
		}

		if revents&unix.POLLHUP != 0 {
			if fd == s.registry.lnFd {
				return fmt.Errorf("listening descriptor %d hung up", fd)
			}
			log.Logger.Info("peer hung up", zap.Int("fd", fd))
			s.stageRemove(fd, revents)
		}

		if revents&readEvents != 0 {
			if fd == s.registry.lnFd {
				s.accept()
			} else if _, staged := s.toRemove[fd]; !staged {
				s.readClient(fd, revents)
			}
		}

		if revents&writeEvents != 0 {
			// Informational only: there is no outbound queue to drain.
			if wn, ok := s.handler.(WriteNotifier); ok {
				wn.OnWritable(fd)
			}
		}
	}
	return nil
}

// accept takes exactly one pending connection off the listener. The connect
// callback fires immediately; only the registry mutation is deferred, so
// the new descriptor joins the watched set at the next pass. Accept failure
// is recoverable: one bad accept must not take the server down.
func (s *Server) accept() {
	connFd, sa, err := unix.Accept(s.registry.lnFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		log.Logger.Error("accept error", zap.Error(err))
		return
	}

	if err := unix.SetNonblock(connFd, true); err != nil {
		log.Logger.Error("set nonblock error", zap.Int("fd", connFd), zap.Error(err))
		unix.Close(connFd)
		return
	}

	log.Logger.Info("accepted connection", zap.Int("fd", connFd), zap.String("peer", sockaddrIP(sa)))
	acceptedTotal.Inc()

	s.handler.OnConnect(connFd)
	s.toAdd = append(s.toAdd, connFd)
}

// readClient does the bounded read for one readable event. Zero bytes or a
// hard error means the peer is gone: the descriptor is staged for removal
// and the handler sees OnDisconnect instead of OnData.
func (s *Server) readClient(fd int, revents int16) {
	n, err := unix.Read(fd, s.readBuf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// Spurious wakeup on a nonblocking socket, not a close.
			return
		}
		log.Logger.Info("read error", zap.Int("fd", fd), zap.Error(err))
		s.stageRemove(fd, revents)
		return
	}
	if n == 0 {
		log.Logger.Info("peer closed", zap.Int("fd", fd))
		s.stageRemove(fd, revents)
		return
	}

	bytesReadTotal.Add(float64(n))
	s.handler.OnData(fd, s.readBuf[:n])
}

func (s *Server) stageRemove(fd int, revents int16) {
	s.toRemove[fd] = revents
}
