package bvh

import "unsafe"

// Default size of an arena chunk in 8-byte words (256 KiB).
const arenaChunkWords = 32 * 1024

// arena is a bump allocator owned by a single software kernel worker.
// Chunks are kept alive until the owning kernel drops the arena.
type arena struct {
	chunks [][]uint64
	cur    []uint64
	off    uintptr
}

func (a *arena) Alloc(size, alignment uintptr) unsafe.Pointer {
	if alignment < 8 {
		alignment = 8
	}
	if size == 0 {
		size = 1
	}

	if a.cur != nil {
		if ptr := a.bump(size, alignment); ptr != nil {
			return ptr
		}
	}

	words := arenaChunkWords
	if need := int((size+alignment+7)/8) + 1; need > words {
		words = need
	}
	a.cur = make([]uint64, words)
	a.chunks = append(a.chunks, a.cur)
	a.off = 0
	return a.bump(size, alignment)
}

func (a *arena) bump(size, alignment uintptr) unsafe.Pointer {
	base := uintptr(unsafe.Pointer(&a.cur[0]))
	limit := uintptr(len(a.cur)) * 8

	start := (base + a.off + alignment - 1) &^ (alignment - 1)
	offset := start - base
	if offset+size > limit {
		return nil
	}
	a.off = offset + size
	return unsafe.Add(unsafe.Pointer(&a.cur[0]), offset)
}

// Get the number of bytes reserved by the arena.
func (a *arena) reserved() int {
	total := 0
	for _, c := range a.chunks {
		total += len(c) * 8
	}
	return total
}
