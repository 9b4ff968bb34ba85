package ioerrors

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("open", ErrInvalidMode, "mode string not recognized")
	require.Equal(t, "open", err.Op)
	assert.Equal(t, ErrInvalidMode, err.Code)
	assert.Equal(t, "evcore: mode string not recognized (op=open)", err.Error())
}

func TestNewErrnoError(t *testing.T) {
	err := NewErrnoError("read", syscall.ECONNRESET)
	assert.Equal(t, syscall.ECONNRESET, err.Errno)
	assert.Equal(t, ErrClosed, err.Code)
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewEndpointError("accept", "listener-0", ErrBusy, "accept already pending")
	wrapped := WrapError("autospawn", inner)
	assert.Equal(t, "listener-0", wrapped.Queue)
	assert.Equal(t, ErrBusy, wrapped.Code)
}

func TestWrapErrorErrno(t *testing.T) {
	wrapped := WrapError("write", syscall.EPIPE)
	assert.Equal(t, syscall.EPIPE, wrapped.Errno)
	assert.True(t, IsErrno(wrapped, syscall.EPIPE))
}

func TestIsCode(t *testing.T) {
	err := NewError("accept", ErrBusy, "busy")
	assert.True(t, IsCode(err, ErrBusy))
	assert.False(t, IsCode(err, ErrClosed))
	assert.False(t, IsCode(nil, ErrBusy))
}

func TestIsCodeAgainstBareSentinel(t *testing.T) {
	assert.True(t, IsCode(ErrClosed, ErrClosed))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(syscall.EAGAIN))
	assert.True(t, IsTransient(syscall.ECONNABORTED))
	assert.False(t, IsTransient(syscall.EBADF))
}
