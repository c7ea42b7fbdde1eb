package mux

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-poll-server/log"
)

// Handler is the capability interface the readiness loop drives. Callbacks
// run inline within the dispatch pass and must return quickly; a slow
// callback delays service to every other connection.
//
// Guarantees:
//   - OnConnect fires exactly once per accepted connection, during the pass
//     that accepted it, before the connection is committed into the registry.
//   - OnData fires once per readable event that yielded bytes, with the exact
//     span read. There is no framing: a peer write that spans several network
//     segments arrives as several OnData calls. The slice is reused by the
//     loop; handlers that retain the bytes must copy them.
//   - OnDisconnect fires exactly once per connection, during commit, before
//     the descriptor number can be reused by a future accept. OnData never
//     follows it for the same descriptor.
type Handler interface {
	OnConnect(fd int)
	OnData(fd int, data []byte)
	OnDisconnect(fd int)
}

// WriteNotifier is an optional extension: a handler that implements it is
// told when a descriptor reports write-readiness. There is no outbound
// queue, so the notification carries no obligation to act.
type WriteNotifier interface {
	OnWritable(fd int)
}

// WriteFunc sends bytes to a descriptor. Handlers write through it so tests
// can capture output without real sockets.
type WriteFunc func(fd int, data []byte) (int, error)

// EchoHandler writes every received span back to its sender verbatim.
type EchoHandler struct {
	write WriteFunc
}

func NewEchoHandler() *EchoHandler {
	return &EchoHandler{write: unix.Write}
}

func (h *EchoHandler) OnConnect(fd int) {
	log.Logger.Info("client connected", zap.Int("fd", fd))
}

func (h *EchoHandler) OnData(fd int, data []byte) {
	log.Logger.Debug("echo", zap.Int("fd", fd), zap.ByteString("data", data))
	if _, err := h.write(fd, data); err != nil {
		log.Logger.Error("echo write error", zap.Int("fd", fd), zap.Error(err))
	}
}

func (h *EchoHandler) OnDisconnect(fd int) {
	log.Logger.Info("client disconnected", zap.Int("fd", fd))
}
