package mux

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-poll-server/log"
)

const nicknamePrompt = "Enter your nickname: "

// ChatHandler fans every chat line out to all other connected clients. The
// first line a client sends becomes its nickname; until then the client is
// connected but unnamed.
//
// Membership and nicknames are guarded by one mutex held for the whole
// callback. The reference loop is single-threaded, so the lock is a
// safeguard for variants that dispatch callbacks from more than one
// goroutine, not a requirement of the loop itself.
type ChatHandler struct {
	mu      sync.Mutex
	clients map[int]struct{}
	names   map[int]string
	write   WriteFunc
}

func NewChatHandler() *ChatHandler {
	return &ChatHandler{
		clients: make(map[int]struct{}),
		names:   make(map[int]string),
		write:   unix.Write,
	}
}

func (h *ChatHandler) OnConnect(fd int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[fd] = struct{}{}

	if _, err := h.write(fd, []byte(nicknamePrompt)); err != nil {
		log.Logger.Debug("prompt write error", zap.Int("fd", fd), zap.Error(err))
	}
}

func (h *ChatHandler) OnData(fd int, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := strings.TrimRight(string(data), "\r\n")

	name, named := h.names[fd]
	if !named {
		h.names[fd] = msg
		log.Logger.Info("client named", zap.Int("fd", fd), zap.String("name", msg))
		h.broadcast(fd, msg+" joined the chat\n")
		return
	}

	h.broadcast(fd, name+": "+msg+"\n")
}

func (h *ChatHandler) OnDisconnect(fd int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.names[fd]
	if !ok {
		name = fmt.Sprintf("Client %d", fd)
	}

	delete(h.clients, fd)
	delete(h.names, fd)

	h.broadcast(fd, name+" left the chat\n")
}

// broadcast writes msg to every member except the sender. A failed write is
// not fatal to the pass and triggers no pruning; a dead peer is removed by
// its own next readiness event.
//
// Callers hold h.mu.
func (h *ChatHandler) broadcast(sender int, msg string) {
	for fd := range h.clients {
		if fd == sender {
			continue
		}
		if _, err := h.write(fd, []byte(msg)); err != nil {
			log.Logger.Debug("broadcast write error", zap.Int("fd", fd), zap.Error(err))
		}
	}
}
