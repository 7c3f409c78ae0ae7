// Package memory provides aligned host allocations that can be safely
// handed to, and retained by, the native kernel.
//
// Memory allocated by this package lives on the C heap so that the native
// library may keep pointers to it after a call returns, which Go memory
// does not allow.
package memory

/*
#include <stdlib.h>
#include <string.h>

static void* rtcgo_aligned_alloc(size_t alignment, size_t size) {
	void* ptr = NULL;
	if (posix_memalign(&ptr, alignment, size) != 0) {
		return NULL;
	}
	memset(ptr, 0, size);
	return ptr;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// The alignment used when callers do not specify one. It satisfies the
// widest SIMD load performed by the native kernel.
const DefaultAlignment = 64

// Allocate size zeroed bytes aligned to alignment. The alignment must be a
// power of two and a multiple of the pointer size.
func AlignedAlloc(size, alignment uintptr) (unsafe.Pointer, error) {
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	if alignment&(alignment-1) != 0 || alignment%unsafe.Sizeof(uintptr(0)) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, alignment)
	}
	if size == 0 {
		size = 1
	}

	ptr := C.rtcgo_aligned_alloc(C.size_t(alignment), C.size_t(size))
	if ptr == nil {
		return nil, fmt.Errorf("%w: %d bytes aligned to %d", ErrOutOfMemory, size, alignment)
	}
	return ptr, nil
}

// Free memory returned by AlignedAlloc. Freeing nil is a no-op.
func Free(ptr unsafe.Pointer) {
	if ptr != nil {
		C.free(ptr)
	}
}

// Allocate an aligned, zeroed array of n values of type T on the C heap
// and return it as a slice. The slice must be released with FreeSlice.
func AllocSlice[T any](n int, alignment uintptr) ([]T, error) {
	var zero T
	if n < 0 {
		return nil, fmt.Errorf("%w: negative element count %d", ErrOutOfMemory, n)
	}
	if n == 0 {
		return nil, nil
	}
	ptr, err := AlignedAlloc(uintptr(n)*unsafe.Sizeof(zero), alignment)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(ptr), n), nil
}

// Free a slice returned by AllocSlice.
func FreeSlice[T any](s []T) {
	if cap(s) == 0 {
		return
	}
	Free(unsafe.Pointer(unsafe.SliceData(s[:cap(s)])))
}
