package bvh

import (
	"unsafe"

	"github.com/achilleasa/go-rtcore/types"
)

// Allocator hands out memory from the thread-local arena of the worker
// that invoked a callback. Blocks stay valid until the kernel is released
// or rebuilt.
type Allocator interface {
	Alloc(size, alignment uintptr) unsafe.Pointer
}

// Kernel runs the tree construction algorithm. It receives the staged
// primitives and reports every structural decision through the
// dispatcher, returning the block produced for the root.
type Kernel interface {
	Build(args *BuildArguments, d Dispatcher) (unsafe.Pointer, error)

	// Release the kernel and every block allocated from its arena.
	Release() error
}

// BuildArguments are passed to a Kernel for a single build.
type BuildArguments struct {
	Options

	// Staged primitives. len() is the primitive count and cap() the
	// capacity available for in-place splitting.
	Primitives []types.BuildPrimitive
}

// Dispatcher receives kernel callbacks and forwards them to the caller.
// Kernels may invoke it concurrently from several workers.
type Dispatcher interface {
	CreateNode(alloc Allocator, childCount int) unsafe.Pointer
	SetNodeChildren(node unsafe.Pointer, children []unsafe.Pointer)
	SetNodeBounds(node unsafe.Pointer, bounds []*types.Bounds)
	CreateLeaf(alloc Allocator, prims []types.BuildPrimitive) unsafe.Pointer
	SplitPrimitive(prim *types.BuildPrimitive, dim uint32, pos float32, left, right *types.Bounds)

	// Report build progress in [0, 1]; false requests cancellation.
	Progress(fraction float64) bool

	// Report whether a split callback is installed. Kernels only perform
	// spatial splits when it is.
	CanSplit() bool
}
