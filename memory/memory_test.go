package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignedAlloc(t *testing.T) {
	for _, align := range []uintptr{8, 16, 32, 64, 4096} {
		ptr, err := AlignedAlloc(100, align)
		require.NoError(t, err)
		assert.Zero(t, uintptr(ptr)%align, "alignment %d", align)

		// Memory is zeroed
		for _, b := range unsafe.Slice((*byte)(ptr), 100) {
			require.Zero(t, b)
		}
		Free(ptr)
	}

	_, err := AlignedAlloc(16, 24)
	assert.ErrorIs(t, err, ErrBadAlignment)
	_, err = AlignedAlloc(16, 2)
	assert.ErrorIs(t, err, ErrBadAlignment)
}

func TestAllocSlice(t *testing.T) {
	s, err := AllocSlice[uint64](32, 32)
	require.NoError(t, err)
	require.Len(t, s, 32)
	assert.Zero(t, uintptr(unsafe.Pointer(&s[0]))%32)
	s[31] = 7
	FreeSlice(s)

	empty, err := AllocSlice[uint64](0, 0)
	require.NoError(t, err)
	assert.Nil(t, empty)
	FreeSlice(empty)
}

func TestSharedLifetime(t *testing.T) {
	s, err := NewShared(256, 16)
	require.NoError(t, err)

	// Attach to two consumers
	require.NoError(t, s.Retain())
	require.NoError(t, s.Retain())
	assert.EqualValues(t, 3, s.RefCount())

	// Closing the owner handle keeps the memory alive for the consumers
	require.NoError(t, s.Close())
	assert.False(t, s.Freed())
	assert.NotNil(t, s.Pointer())

	s.Release()
	assert.False(t, s.Freed())
	s.Release()
	assert.True(t, s.Freed())
	assert.Zero(t, s.RefCount())
}

func TestSharedClosedHandle(t *testing.T) {
	s, err := NewShared(64, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.True(t, s.Freed())

	assert.ErrorIs(t, s.Allocate(128), ErrClosed)
	assert.ErrorIs(t, s.Retain(), ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
	_, err = s.View()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSharedReallocate(t *testing.T) {
	s, err := NewShared(16, 16)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Retain())
	assert.ErrorIs(t, s.Allocate(32), ErrInUse)
	s.Release()

	require.NoError(t, s.Allocate(32))
	assert.EqualValues(t, 32, s.Size())

	floats, err := SharedView[float32](s)
	require.NoError(t, err)
	assert.EqualValues(t, 8, floats.Len())
	require.NoError(t, floats.Set(7, 1.5))

	bytes, err := s.View()
	require.NoError(t, err)
	raw, err := bytes.Slice(28, 4)
	require.NoError(t, err)
	v, err := raw.At(3)
	require.NoError(t, err)
	assert.Equal(t, byte(0x3f), v)
}

func TestSharedOverRelease(t *testing.T) {
	s, err := NewShared(8, 8)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Panics(t, s.Release)
}
