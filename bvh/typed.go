package bvh

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/go-rtcore/types"
)

// TypedCallbacks are the strongly typed counterpart of Callbacks. Node
// and leaf blocks are allocated by the builder using the size and
// alignment of N and L, zeroed and handed to the init callbacks.
// Children are exposed through their common header type H.
//
// N, L and H must not contain pointers to Go memory: blocks live in the
// kernel arena which the garbage collector does not scan.
type TypedCallbacks[H, N, L any] struct {
	InitNode        func(node *N, childCount int)
	SetNodeChildren func(node *N, children []*H)
	SetNodeBounds   func(node *N, bounds []*types.Bounds)
	InitLeaf        func(leaf *L, prims []types.BuildPrimitive)
	SplitPrimitive  func(prim *types.BuildPrimitive, dim uint32, pos float32, left, right *types.Bounds)
	Progress        func(fraction float64) bool
}

// Return an error naming the first unset mandatory callback. Node and
// leaf initializers are optional; blocks are zeroed without them.
func (cb *TypedCallbacks[H, N, L]) validate() error {
	switch {
	case cb.SetNodeChildren == nil:
		return fmt.Errorf("%w: SetNodeChildren", ErrMissingCallback)
	case cb.SetNodeBounds == nil:
		return fmt.Errorf("%w: SetNodeBounds", ErrMissingCallback)
	}
	return nil
}

// TypedBuilder builds trees whose inner nodes have layout N, leaves have
// layout L and both start with header H.
type TypedBuilder[H, N, L any] struct {
	b *Builder
}

// Create a typed builder owning kernel. The size of H must not exceed the
// size of either N or L. This is a sanity check only; the caller remains
// responsible for H being an actual prefix of both layouts. SetNodeChildren
// and SetNodeBounds must be set.
func NewTypedBuilder[H, N, L any](kernel Kernel, callbacks TypedCallbacks[H, N, L]) (*TypedBuilder[H, N, L], error) {
	var (
		header H
		node   N
		leaf   L
	)
	hSize, nSize, lSize := unsafe.Sizeof(header), unsafe.Sizeof(node), unsafe.Sizeof(leaf)
	if hSize > nSize || hSize > lSize {
		return nil, fmt.Errorf("%w: header %d bytes, node %d bytes, leaf %d bytes", ErrHeaderLayout, hSize, nSize, lSize)
	}
	if err := callbacks.validate(); err != nil {
		return nil, err
	}

	tb := &TypedBuilder[H, N, L]{}
	tb.b = newBuilder(kernel, untyped[H, N, L](callbacks))
	return tb, nil
}

// Translate typed callbacks into their untyped form.
func untyped[H, N, L any](cb TypedCallbacks[H, N, L]) Callbacks {
	var (
		node N
		leaf L
	)
	nodeSize, nodeAlign := unsafe.Sizeof(node), unsafe.Alignof(node)
	leafSize, leafAlign := unsafe.Sizeof(leaf), unsafe.Alignof(leaf)

	return Callbacks{
		CreateNode: func(alloc Allocator, childCount int) unsafe.Pointer {
			ptr := alloc.Alloc(nodeSize, nodeAlign)
			if ptr == nil {
				return nil
			}
			n := (*N)(ptr)
			*n = node
			if cb.InitNode != nil {
				cb.InitNode(n, childCount)
			}
			return ptr
		},
		SetNodeChildren: func(ptr unsafe.Pointer, children []unsafe.Pointer) {
			headers := unsafe.Slice((**H)(unsafe.Pointer(unsafe.SliceData(children))), len(children))
			cb.SetNodeChildren((*N)(ptr), headers)
		},
		SetNodeBounds: func(ptr unsafe.Pointer, bounds []*types.Bounds) {
			cb.SetNodeBounds((*N)(ptr), bounds)
		},
		CreateLeaf: func(alloc Allocator, prims []types.BuildPrimitive) unsafe.Pointer {
			ptr := alloc.Alloc(leafSize, leafAlign)
			if ptr == nil {
				return nil
			}
			l := (*L)(ptr)
			*l = leaf
			if cb.InitLeaf != nil {
				cb.InitLeaf(l, prims)
			}
			return ptr
		},
		SplitPrimitive: cb.SplitPrimitive,
		Progress:       cb.Progress,
	}
}

func (tb *TypedBuilder[H, N, L]) SetOptions(opts Options) error {
	return tb.b.SetOptions(opts)
}

func (tb *TypedBuilder[H, N, L]) Options() (Options, error) {
	return tb.b.Options()
}

func (tb *TypedBuilder[H, N, L]) SetPrimitives(prims []types.BuildPrimitive) error {
	return tb.b.SetPrimitives(prims)
}

// Build the tree and return its root header. See Builder.Build.
func (tb *TypedBuilder[H, N, L]) Build() (*H, error) {
	root, err := tb.b.Build()
	return (*H)(root), err
}

func (tb *TypedBuilder[H, N, L]) Root() (*H, error) {
	root, err := tb.b.Root()
	return (*H)(root), err
}

func (tb *TypedBuilder[H, N, L]) Stats() (Stats, error) {
	return tb.b.Stats()
}

func (tb *TypedBuilder[H, N, L]) Release() error {
	return tb.b.Release()
}
