package tcpendpoint

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndConnectRoundTrip(t *testing.T) {
	listenFd, err := Listen("127.0.0.1", 0, 4)
	require.NoError(t, err)
	defer unix.Close(listenFd)

	sa, err := unix.Getsockname(listenFd)
	require.NoError(t, err)
	port := sa.(*unix.SockaddrInet4).Port

	clientFd, err := Connect("127.0.0.1", port)
	require.NoError(t, err)
	defer unix.Close(clientFd)

	connFd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	require.NoError(t, err)
	defer unix.Close(connFd)

	addr, err := PeerAddr(connFd)
	require.NoError(t, err)
	assert.Contains(t, addr, "127.0.0.1:")
}

func TestSetNoDelayAndCork(t *testing.T) {
	listenFd, err := Listen("127.0.0.1", 0, 4)
	require.NoError(t, err)
	defer unix.Close(listenFd)

	sa, err := unix.Getsockname(listenFd)
	require.NoError(t, err)
	port := sa.(*unix.SockaddrInet4).Port

	clientFd, err := Connect("127.0.0.1", port)
	require.NoError(t, err)
	defer unix.Close(clientFd)

	assert.NoError(t, SetNoDelay(clientFd, true))
	assert.NoError(t, Cork(clientFd, true))
	assert.NoError(t, Cork(clientFd, false))
}

func TestPeerAddrRejectsNonInetSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	_, err = PeerAddr(fds[0])
	assert.Error(t, err)
}
