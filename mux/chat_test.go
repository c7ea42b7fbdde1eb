package mux

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newChatWithSink() (*ChatHandler, *sink) {
	s := newSink()
	h := NewChatHandler()
	h.write = s.write
	return h, s
}

func TestChatPromptOnConnect(t *testing.T) {
	h, s := newChatWithSink()

	h.OnConnect(5)

	assert.Equal(t, []string{nicknamePrompt}, s.writesTo(5))
}

func TestChatFirstLineBecomesNickname(t *testing.T) {
	h, s := newChatWithSink()
	h.OnConnect(1)
	h.OnConnect(2)
	s.reset()

	h.OnData(1, []byte("alice\r\n"))
	assert.Equal(t, []string{"alice joined the chat\n"}, s.writesTo(2))
	assert.Empty(t, s.writesTo(1), "join announcement must not reach the sender")

	h.OnData(1, []byte("hello\n"))
	assert.Equal(t, []string{"alice joined the chat\n", "alice: hello\n"}, s.writesTo(2))
	assert.Empty(t, s.writesTo(1))
}

func TestChatBroadcastSkipsSender(t *testing.T) {
	h, s := newChatWithSink()
	for fd := 1; fd <= 3; fd++ {
		h.OnConnect(fd)
		h.OnData(fd, []byte(fmt.Sprintf("user%d\n", fd)))
	}
	s.reset()

	h.OnData(1, []byte("hi all\n"))

	assert.Empty(t, s.writesTo(1))
	assert.Equal(t, []string{"user1: hi all\n"}, s.writesTo(2))
	assert.Equal(t, []string{"user1: hi all\n"}, s.writesTo(3))
}

func TestChatDepartureUsesFallbackName(t *testing.T) {
	h, s := newChatWithSink()
	h.OnConnect(1)
	h.OnData(1, []byte("alice\n"))
	h.OnConnect(7)
	s.reset()

	// fd 7 disconnects before ever naming itself.
	h.OnDisconnect(7)

	assert.Equal(t, []string{"Client 7 left the chat\n"}, s.writesTo(1))
}

func TestChatSessionErasedOnDisconnect(t *testing.T) {
	h, s := newChatWithSink()
	h.OnConnect(1)
	h.OnConnect(2)
	h.OnData(1, []byte("alice\n"))

	h.OnDisconnect(1)
	assert.Equal(t, "alice left the chat\n", s.writesTo(2)[len(s.writesTo(2))-1])

	h.mu.Lock()
	_, inClients := h.clients[1]
	_, inNames := h.names[1]
	h.mu.Unlock()
	assert.False(t, inClients)
	assert.False(t, inNames)

	// The descriptor number gets reused by a later accept: the new client
	// starts unnamed and is prompted again.
	h.OnConnect(1)
	s.reset()
	h.OnData(1, []byte("amelia\n"))
	assert.Equal(t, []string{"amelia joined the chat\n"}, s.writesTo(2))
}

func TestChatWriteFailureIsIgnored(t *testing.T) {
	h := NewChatHandler()
	calls := make(map[int]int)
	h.write = func(fd int, data []byte) (int, error) {
		calls[fd]++
		if fd == 2 {
			return 0, errors.New("broken pipe")
		}
		return len(data), nil
	}

	h.OnConnect(1)
	h.OnConnect(2)
	h.OnConnect(3)
	h.OnData(1, []byte("alice\n"))

	// The failed write to fd 2 must not stop the fan-out to fd 3 ...
	assert.Equal(t, 2, calls[3], "prompt plus join announcement")
	// ... and must not prune fd 2 from the membership set.
	h.mu.Lock()
	_, still := h.clients[2]
	h.mu.Unlock()
	assert.True(t, still, "write failure must not prune the peer")
}
