// Package view provides bounds-checked typed windows over raw memory.
//
// Views are used to expose memory owned by the native library (buffer
// contents, arena blocks, primitive arrays handed to callbacks) without
// copying it. A view does not own its memory; callers must not retain a
// view beyond the lifetime of the object that produced it.
package view

import (
	"fmt"
	"math"
	"unsafe"
)

// View is a typed window of n elements starting at ptr.
type View[T any] struct {
	ptr unsafe.Pointer
	n   int64
}

// Create a view over the backing array of a slice.
func Of[T any](s []T) View[T] {
	if len(s) == 0 {
		return View[T]{}
	}
	return View[T]{ptr: unsafe.Pointer(unsafe.SliceData(s)), n: int64(len(s))}
}

// Create a view of n elements starting at ptr. A nil pointer is only valid
// together with a zero length.
func FromPointer[T any](ptr unsafe.Pointer, n int64) (View[T], error) {
	if n < 0 || (ptr == nil && n != 0) {
		return View[T]{}, fmt.Errorf("%w: pointer %p with length %d", ErrOutOfRange, ptr, n)
	}
	return View[T]{ptr: ptr, n: n}, nil
}

// Get the number of elements in the view.
func (v View[T]) Len() int64 {
	return v.n
}

// Get the size of the viewed region in bytes.
func (v View[T]) ByteLen() int64 {
	return v.n * int64(elemSize[T]())
}

// Get a pointer to the first element.
func (v View[T]) Pointer() unsafe.Pointer {
	return v.ptr
}

// Get the element at index i.
func (v View[T]) At(i int64) (T, error) {
	var zero T
	if i < 0 || i >= v.n {
		return zero, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, v.n)
	}
	return *v.elem(i), nil
}

// Get a pointer to the element at index i.
func (v View[T]) Ref(i int64) (*T, error) {
	if i < 0 || i >= v.n {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, v.n)
	}
	return v.elem(i), nil
}

// Overwrite the element at index i.
func (v View[T]) Set(i int64, val T) error {
	if i < 0 || i >= v.n {
		return fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, v.n)
	}
	*v.elem(i) = val
	return nil
}

// Get a view of the elements [offset, offset+length).
func (v View[T]) Slice(offset, length int64) (View[T], error) {
	if offset < 0 || length < 0 || offset > v.n || length > v.n-offset {
		return View[T]{}, fmt.Errorf("%w: slice [%d:+%d] of length %d", ErrOutOfRange, offset, length, v.n)
	}
	if length == 0 {
		return View[T]{}, nil
	}
	return View[T]{ptr: unsafe.Pointer(v.elem(offset)), n: length}, nil
}

// Get a view of all elements starting at offset.
func (v View[T]) SliceFrom(offset int64) (View[T], error) {
	return v.Slice(offset, v.n-offset)
}

// Convert the view to a Go slice aliasing the same memory. Views longer
// than math.MaxInt32 elements cannot be converted.
func (v View[T]) Span() ([]T, error) {
	if v.n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: length %d exceeds span limit %d", ErrOutOfRange, v.n, math.MaxInt32)
	}
	if v.n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(v.ptr), int(v.n)), nil
}

// Copy the view contents into dst and return the number of copied elements.
func (v View[T]) CopyTo(dst []T) int {
	span, err := v.Span()
	if err != nil {
		span = unsafe.Slice((*T)(v.ptr), math.MaxInt32)
	}
	return copy(dst, span)
}

// Reinterpret the viewed bytes as elements of type U. The byte length of
// the view must be a multiple of the size of U.
func Cast[U, T any](v View[T]) (View[U], error) {
	usz := int64(elemSize[U]())
	if usz == 0 {
		return View[U]{}, fmt.Errorf("%w: cannot cast to zero-sized type", ErrOutOfRange)
	}

	byteLen := v.ByteLen()
	if byteLen%usz != 0 {
		return View[U]{}, fmt.Errorf("%w: %d bytes are not a multiple of the target element size %d", ErrOutOfRange, byteLen, usz)
	}
	return View[U]{ptr: v.ptr, n: byteLen / usz}, nil
}

// Get a byte view over the same region.
func (v View[T]) Bytes() View[byte] {
	return View[byte]{ptr: v.ptr, n: v.ByteLen()}
}

func (v View[T]) elem(i int64) *T {
	return (*T)(unsafe.Add(v.ptr, uintptr(i)*elemSize[T]()))
}

func elemSize[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}
