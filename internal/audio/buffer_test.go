package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((start + i) % 256)
	}
	return out
}

func TestCaptureBufferReadWindow(t *testing.T) {
	t.Parallel()

	buf := NewCaptureBuffer(64)

	dropped, err := buf.Write(sequence(0, 48))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, 48, buf.Len())

	dst := make([]byte, 32)
	require.NoError(t, buf.ReadWindow(dst))
	assert.Equal(t, sequence(16, 32), dst, "window should hold the most recent bytes")
	assert.Zero(t, buf.Len(), "ReadWindow consumes everything up to the window end")
}

func TestCaptureBufferInsufficientAudio(t *testing.T) {
	t.Parallel()

	buf := NewCaptureBuffer(64)
	_, err := buf.Write(sequence(0, 16))
	require.NoError(t, err)

	dst := make([]byte, 32)
	err = buf.ReadWindow(dst)
	assert.ErrorIs(t, err, ErrInsufficientAudio)
	assert.Equal(t, 16, buf.Len(), "a failed read must not consume audio")
}

func TestCaptureBufferDiscardsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	buf := NewCaptureBuffer(64)

	dropped, err := buf.Write(sequence(0, 64))
	require.NoError(t, err)
	assert.Zero(t, dropped)

	dropped, err = buf.Write(sequence(64, 32))
	require.NoError(t, err)
	assert.Equal(t, 32, dropped)
	assert.Equal(t, 64, buf.Len())

	dst := make([]byte, 64)
	require.NoError(t, buf.ReadWindow(dst))
	assert.Equal(t, sequence(32, 64), dst)
}

func TestCaptureBufferOversizedWriteKeepsTail(t *testing.T) {
	t.Parallel()

	buf := NewCaptureBuffer(64)

	dropped, err := buf.Write(sequence(0, 200))
	require.NoError(t, err)
	assert.Equal(t, 136, dropped)

	dst := make([]byte, 64)
	require.NoError(t, buf.ReadWindow(dst))
	assert.Equal(t, sequence(136, 64), dst)
}

func TestCaptureBufferReset(t *testing.T) {
	t.Parallel()

	buf := NewCaptureBuffer(64)
	_, err := buf.Write(sequence(0, 64))
	require.NoError(t, err)

	buf.Reset()
	assert.Zero(t, buf.Len())
	assert.Equal(t, 64, buf.Capacity())

	dst := make([]byte, 32)
	assert.ErrorIs(t, buf.ReadWindow(dst), ErrInsufficientAudio)
}
