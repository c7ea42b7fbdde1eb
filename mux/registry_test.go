//go:build linux
// +build linux

package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func TestOpenAndPort(t *testing.T) {
	r, err := Open(0, newRecordingHandler())
	require.NoError(t, err)
	defer r.Teardown()

	port, err := r.Port()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	require.Equal(t, 1, r.Len())
	assert.Equal(t, int32(r.lnFd), r.Watched()[0].Fd)
	assert.EqualValues(t, readEvents, r.Watched()[0].Events)
}

func TestOpenPortInUse(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	defer r.Teardown()

	port, err := r.Port()
	require.NoError(t, err)

	_, err = Open(port, h)
	require.Error(t, err)
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bind", se.Op)
}

func TestCommitAddsWithReadInterest(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	defer r.Teardown()

	a, b := newPair(t)
	defer unix.Close(b)

	r.Commit([]int{a}, nil)

	require.Equal(t, 2, r.Len())
	assert.Equal(t, int32(a), r.Watched()[1].Fd)
	assert.EqualValues(t, readEvents, r.Watched()[1].Events)
	assert.Empty(t, h.disconnects)
}

func TestCommitRemovalClosesAndNotifies(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	defer r.Teardown()

	a, b := newPair(t)
	defer unix.Close(b)
	r.Commit([]int{a}, nil)

	r.Commit(nil, map[int]int16{a: unix.POLLHUP})

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{a}, h.disconnects)
	assert.False(t, isFDValid(a), "removal must close the descriptor")
}

func TestCommitSkipsCloseForInvalidDescriptor(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	defer r.Teardown()

	a, b := newPair(t)
	defer unix.Close(b)
	r.Commit([]int{a}, nil)

	// The descriptor was closed behind the registry's back; poll would
	// report POLLNVAL. The entry must still be purged and the disconnect
	// must still fire, but no second close call may be made.
	require.NoError(t, unix.Close(a))
	r.Commit(nil, map[int]int16{a: unix.POLLNVAL})

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{a}, h.disconnects)
}

func TestTeardownClosesEverything(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	lnFd := r.lnFd

	a, b := newPair(t)
	defer unix.Close(b)
	r.Commit([]int{a}, nil)

	require.NoError(t, r.Teardown())

	assert.Equal(t, 0, r.Len())
	assert.False(t, isFDValid(a))
	assert.False(t, isFDValid(lnFd))
}

func TestSetupErrorUnwraps(t *testing.T) {
	h := newRecordingHandler()
	r, err := Open(0, h)
	require.NoError(t, err)
	defer r.Teardown()

	port, err := r.Port()
	require.NoError(t, err)

	_, err = Open(port, h)
	require.ErrorIs(t, err, unix.EADDRINUSE)
}
