package unixendpoint

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndConnectRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "s.sock")

	listenFd, err := Listen(sockPath, 4)
	require.NoError(t, err)
	defer unix.Close(listenFd)

	clientFd, err := Connect(sockPath)
	require.NoError(t, err)
	defer unix.Close(clientFd)

	connFd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	require.NoError(t, err)
	defer unix.Close(connFd)

	creds, err := PeerCreds(connFd)
	require.NoError(t, err)
	assert.Equal(t, int32(unix.Getpid()), creds.PID)
}

func TestConnectFailsOnMissingSocket(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "does-not-exist.sock"))
	assert.Error(t, err)
}
