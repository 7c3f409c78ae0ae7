package memory

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/achilleasa/go-rtcore/view"
)

// Shared is a caller-owned memory region that can be registered with
// native geometries without being copied.
//
// The region is reference counted: the creator holds one reference which
// is dropped by Close and every geometry attachment holds another one
// obtained with Retain and dropped with Release. The backing memory is
// freed once the count reaches zero, so closing a buffer that is still
// attached keeps the memory alive until the last geometry lets go of it.
type Shared struct {
	mu sync.Mutex

	ptr       unsafe.Pointer
	size      uintptr
	alignment uintptr

	refs   int64
	closed bool
}

// Allocate a shared region of size bytes.
func NewShared(size, alignment uintptr) (*Shared, error) {
	s := &Shared{alignment: alignment, refs: 1}
	if err := s.allocate(size); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace the backing memory with a new zeroed region of size bytes. This
// fails if the buffer was closed or is currently attached to a geometry.
func (s *Shared) Allocate(size uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.refs > 1 {
		return fmt.Errorf("%w: %d attachment(s)", ErrInUse, s.refs-1)
	}

	Free(s.ptr)
	s.ptr, s.size = nil, 0
	return s.allocate(size)
}

func (s *Shared) allocate(size uintptr) error {
	ptr, err := AlignedAlloc(size, s.alignment)
	if err != nil {
		return err
	}
	s.ptr, s.size = ptr, size
	return nil
}

// Add a reference on behalf of a new consumer. Closed buffers can not
// gain new consumers.
func (s *Shared) Retain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ptr == nil {
		return ErrClosed
	}
	s.refs++
	return nil
}

// Drop a reference obtained via Retain.
func (s *Shared) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decRef()
}

// Drop the creator's reference. The memory is freed immediately if no
// geometry references it, otherwise when the last one releases it.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.decRef()
	return nil
}

func (s *Shared) decRef() {
	if s.refs <= 0 {
		panic("memory: shared buffer released too many times")
	}

	s.refs--
	if s.refs == 0 {
		Free(s.ptr)
		s.ptr = nil
	}
}

// Get a byte view over the region. Views can not be obtained once the
// buffer is closed even if attachments keep the memory alive.
func (s *Shared) View() (view.View[byte], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return view.View[byte]{}, ErrClosed
	}
	return view.FromPointer[byte](s.ptr, int64(s.size))
}

// Get the raw pointer to the backing memory; nil once freed.
func (s *Shared) Pointer() unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptr
}

// Get the region size in bytes.
func (s *Shared) Size() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Get the number of live references including the creator's.
func (s *Shared) RefCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Report whether the backing memory has been freed.
func (s *Shared) Freed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptr == nil
}

// Get a typed view over a shared region.
func SharedView[T any](s *Shared) (view.View[T], error) {
	bytes, err := s.View()
	if err != nil {
		return view.View[T]{}, err
	}
	return view.Cast[T](bytes)
}
