package rtc

// #include <embree4/rtcore.h>
import "C"

import (
	"sync"
	"unsafe"

	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/view"
)

// State shared by every wrapper of the same native buffer.
type bufferState struct {
	mu       sync.Mutex
	wrappers int

	// Caller memory backing the buffer; nil for library owned buffers.
	shared *memory.Shared
}

// Buffer wraps a native data buffer.
type Buffer struct {
	mu       sync.Mutex
	device   C.RTCDevice
	handle   C.RTCBuffer
	size     uintptr
	state    *bufferState
	released bool
}

func newBuffer(device C.RTCDevice, handle C.RTCBuffer, size uintptr, shared *memory.Shared) *Buffer {
	return &Buffer{
		device: device,
		handle: handle,
		size:   size,
		state:  &bufferState{wrappers: 1, shared: shared},
	}
}

// Get a new wrapper that owns an additional reference to the buffer.
func (b *Buffer) Retain() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	C.rtcRetainBuffer(b.handle)

	b.state.mu.Lock()
	b.state.wrappers++
	b.state.mu.Unlock()
	return &Buffer{device: b.device, handle: b.handle, size: b.size, state: b.state}, nil
}

// Drop the reference owned by this wrapper. Releasing the last wrapper of
// a shared buffer drops its reference to the caller memory.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.released = true
	C.rtcReleaseBuffer(b.handle)

	b.state.mu.Lock()
	b.state.wrappers--
	if b.state.wrappers == 0 && b.state.shared != nil {
		b.state.shared.Release()
		b.state.shared = nil
	}
	b.state.mu.Unlock()
	return nil
}

// Get a view of the buffer contents.
func (b *Buffer) Data() (view.View[byte], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return view.View[byte]{}, ErrReleased
	}
	var ptr unsafe.Pointer
	err := deviceCall(b.device, func() {
		ptr = C.rtcGetBufferData(b.handle)
	})
	if ptr == nil {
		return view.View[byte]{}, opError("buffer data", err)
	}
	return view.FromPointer[byte](ptr, int64(b.size))
}

// Get the buffer size in bytes.
func (b *Buffer) Size() (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return 0, ErrReleased
	}
	return b.size, nil
}

// Get the native handle while holding the release guard.
func (b *Buffer) native() (C.RTCBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	return b.handle, nil
}
