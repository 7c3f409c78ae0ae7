package bvh

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"unsafe"

	"github.com/achilleasa/go-rtcore/types"
)

// Callbacks define how the tree built by a kernel is laid out in memory.
//
// The kernel never looks inside node or leaf blocks; it only passes the
// pointers returned by CreateNode and CreateLeaf back to SetNodeChildren.
// Callers typically make both layouts start with a common header so that
// children can be told apart. Callbacks may be invoked concurrently from
// several workers and must not retain the slices they receive.
type Callbacks struct {
	// Allocate an inner node that will receive childCount children.
	CreateNode func(alloc Allocator, childCount int) unsafe.Pointer

	// Link the children of an inner node. Invoked once per node after
	// all of its children have been created.
	SetNodeChildren func(node unsafe.Pointer, children []unsafe.Pointer)

	// Assign the bounds of each child, in SetNodeChildren order.
	SetNodeBounds func(node unsafe.Pointer, bounds []*types.Bounds)

	// Allocate a leaf referencing prims.
	CreateLeaf func(alloc Allocator, prims []types.BuildPrimitive) unsafe.Pointer

	// Optional. Clip prim at pos along dim (0=x, 1=y, 2=z) and store the
	// bounds of the two fragments in left and right.
	SplitPrimitive func(prim *types.BuildPrimitive, dim uint32, pos float32, left, right *types.Bounds)

	// Optional. Receives the build progress in [0, 1]; returning false
	// cancels the build.
	Progress func(fraction float64) bool
}

// Return an error naming the first unset mandatory callback.
func (cb *Callbacks) validate() error {
	switch {
	case cb.CreateNode == nil:
		return fmt.Errorf("%w: CreateNode", ErrMissingCallback)
	case cb.SetNodeChildren == nil:
		return fmt.Errorf("%w: SetNodeChildren", ErrMissingCallback)
	case cb.SetNodeBounds == nil:
		return fmt.Errorf("%w: SetNodeBounds", ErrMissingCallback)
	case cb.CreateLeaf == nil:
		return fmt.Errorf("%w: CreateLeaf", ErrMissingCallback)
	}
	return nil
}

// A panic raised by a callback. Panics can not unwind through native
// frames so they are captured and re-raised once the kernel returns.
type callbackPanic struct {
	callback string
	value    interface{}
	stack    []byte
}

// dispatcher forwards kernel callbacks to the caller's Callbacks and keeps
// per-build counters.
type dispatcher struct {
	cb Callbacks

	nodes          atomic.Int64
	leaves         atomic.Int64
	splits         atomic.Int64
	rejectedSplits atomic.Int64

	cancelled atomic.Bool
	failure   atomic.Pointer[callbackPanic]
}

func newDispatcher(cb Callbacks) *dispatcher {
	return &dispatcher{cb: cb}
}

func (d *dispatcher) capture(callback string) {
	if r := recover(); r != nil {
		d.failure.CompareAndSwap(nil, &callbackPanic{callback: callback, value: r, stack: debug.Stack()})
	}
}

func (d *dispatcher) failed() bool {
	return d.failure.Load() != nil
}

func (d *dispatcher) CreateNode(alloc Allocator, childCount int) unsafe.Pointer {
	if d.failed() || d.cb.CreateNode == nil {
		return nil
	}
	defer d.capture("CreateNode")

	d.nodes.Add(1)
	return d.cb.CreateNode(alloc, childCount)
}

func (d *dispatcher) SetNodeChildren(node unsafe.Pointer, children []unsafe.Pointer) {
	if d.failed() || d.cb.SetNodeChildren == nil {
		return
	}
	defer d.capture("SetNodeChildren")

	d.cb.SetNodeChildren(node, children)
}

func (d *dispatcher) SetNodeBounds(node unsafe.Pointer, bounds []*types.Bounds) {
	if d.failed() || d.cb.SetNodeBounds == nil {
		return
	}
	defer d.capture("SetNodeBounds")

	d.cb.SetNodeBounds(node, bounds)
}

func (d *dispatcher) CreateLeaf(alloc Allocator, prims []types.BuildPrimitive) unsafe.Pointer {
	if d.failed() || d.cb.CreateLeaf == nil {
		return nil
	}
	defer d.capture("CreateLeaf")

	d.leaves.Add(1)
	return d.cb.CreateLeaf(alloc, prims)
}

// Forward a split request. Dimensions outside [0, 2] are never forwarded;
// both fragments then keep the bounds of the unsplit primitive.
func (d *dispatcher) SplitPrimitive(prim *types.BuildPrimitive, dim uint32, pos float32, left, right *types.Bounds) {
	if dim > 2 || d.failed() || d.cb.SplitPrimitive == nil {
		d.rejectedSplits.Add(1)
		*left = prim.Bounds()
		*right = prim.Bounds()
		return
	}
	defer d.capture("SplitPrimitive")

	d.splits.Add(1)
	d.cb.SplitPrimitive(prim, dim, pos, left, right)
}

func (d *dispatcher) Progress(fraction float64) bool {
	if d.failed() || d.cancelled.Load() {
		return false
	}
	if d.cb.Progress == nil {
		return true
	}
	defer d.capture("Progress")

	if !d.cb.Progress(fraction) {
		d.cancelled.Store(true)
		return false
	}
	return true
}

func (d *dispatcher) CanSplit() bool {
	return d.cb.SplitPrimitive != nil
}

// Re-raise a panic captured while the kernel was running.
func (d *dispatcher) rethrow() {
	if p := d.failure.Load(); p != nil {
		panic(fmt.Sprintf("bvh: %s callback panicked: %v\n%s", p.callback, p.value, p.stack))
	}
}
