package pty

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPairProducesUsableMasterSlave(t *testing.T) {
	master, slave, err := OpenPair()
	require.NoError(t, err)
	defer unix.Close(master)
	defer unix.Close(slave)

	assert.True(t, IsTerminal(slave))

	n, err := unix.Write(slave, []byte("hi\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSetAndGetWindowSize(t *testing.T) {
	master, slave, err := OpenPair()
	require.NoError(t, err)
	defer unix.Close(master)
	defer unix.Close(slave)

	require.NoError(t, SetWindowSize(master, WindowSize{Rows: 40, Cols: 120}))

	size, err := GetWindowSize(master)
	require.NoError(t, err)
	assert.Equal(t, uint16(40), size.Rows)
	assert.Equal(t, uint16(120), size.Cols)
}

func TestIsTerminalFalseForRegularFile(t *testing.T) {
	fd, err := unix.Open(t.TempDir(), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	defer unix.Close(fd)
	assert.False(t, IsTerminal(fd))
}

func TestRawModeRestoresOnRestore(t *testing.T) {
	master, slave, err := OpenPair()
	require.NoError(t, err)
	defer unix.Close(master)
	defer unix.Close(slave)

	restore, err := RawMode(slave)
	require.NoError(t, err)
	assert.NoError(t, restore())
}
