package bvh

import (
	"sync"
	"time"
	"unsafe"

	"github.com/achilleasa/go-rtcore/log"
	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/types"
)

// Staged primitives are aligned for the widest vector loads of the kernel.
const stagingAlignment = 64

// Statistics collected during the last build.
type Stats struct {
	Primitives     int
	Capacity       int
	Nodes          int64
	Leaves         int64
	Splits         int64
	RejectedSplits int64
	BuildTime      time.Duration
}

// Builder drives a Kernel with a primitive list and a set of callbacks
// and keeps a reference to the root of the produced tree.
type Builder struct {
	logger log.Logger

	mu sync.Mutex

	kernel    Kernel
	callbacks Callbacks
	options   Options
	prims     []types.BuildPrimitive

	// Mandatory callbacks are only checked for the untyped flavor.
	checkCallbacks bool

	root     unsafe.Pointer
	stats    Stats
	released bool
}

// Create a builder that owns kernel. Releasing the builder releases the
// kernel and all tree memory allocated through it.
func NewBuilder(kernel Kernel, callbacks Callbacks) *Builder {
	b := newBuilder(kernel, callbacks)
	b.checkCallbacks = true
	return b
}

func newBuilder(kernel Kernel, callbacks Callbacks) *Builder {
	return &Builder{
		logger:    log.New("bvh"),
		kernel:    kernel,
		callbacks: callbacks,
		options:   DefaultOptions(),
	}
}

// Replace the build options.
func (b *Builder) SetOptions(opts Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.options = opts
	return nil
}

// Get the build options.
func (b *Builder) Options() (Options, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return Options{}, ErrReleased
	}
	return b.options, nil
}

// Replace the callbacks.
func (b *Builder) SetCallbacks(callbacks Callbacks) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.callbacks = callbacks
	return nil
}

// Set the primitives for the next build. The slice is copied into native
// staging memory when Build runs so it can be reused afterwards.
func (b *Builder) SetPrimitives(prims []types.BuildPrimitive) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.prims = prims
	return nil
}

// Build the tree and return its root block.
//
// An empty (but non-nil) primitive list yields a nil root and no error.
// If the progress callback cancels the build ErrBuildCancelled is
// returned; any other kernel failure is reported as ErrBuildFailed.
// Panics raised by callbacks are re-raised once the kernel returns.
func (b *Builder) Build() (unsafe.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	if b.prims == nil {
		return nil, ErrNilPrimitives
	}
	if b.checkCallbacks {
		if err := b.callbacks.validate(); err != nil {
			return nil, err
		}
	}

	b.root = nil
	b.stats = Stats{}
	if len(b.prims) == 0 {
		return nil, nil
	}

	count := len(b.prims)
	capacity := StagingCapacity(b.options.Quality, count)
	staging, err := memory.AllocSlice[types.BuildPrimitive](capacity, stagingAlignment)
	if err != nil {
		return nil, err
	}
	defer memory.FreeSlice(staging)
	copy(staging, b.prims)

	d := newDispatcher(b.callbacks)
	args := &BuildArguments{
		Options:    b.options,
		Primitives: staging[:count],
	}

	start := time.Now()
	root, err := b.kernel.Build(args, d)
	d.rethrow()

	b.stats = Stats{
		Primitives:     count,
		Capacity:       capacity,
		Nodes:          d.nodes.Load(),
		Leaves:         d.leaves.Load(),
		Splits:         d.splits.Load(),
		RejectedSplits: d.rejectedSplits.Load(),
		BuildTime:      time.Since(start),
	}

	switch {
	case root == nil && d.cancelled.Load():
		return nil, ErrBuildCancelled
	case err != nil:
		return nil, err
	case root == nil:
		return nil, ErrBuildFailed
	}

	b.logger.Debugf(
		"BVH build time: %d ms, quality: %s, primitives: %d, nodes: %d, leafs: %d, splits: %d",
		b.stats.BuildTime.Nanoseconds()/1e6,
		b.options.Quality, count, b.stats.Nodes, b.stats.Leaves, b.stats.Splits,
	)

	b.root = root
	return root, nil
}

// Get the root produced by the last successful build.
func (b *Builder) Root() (unsafe.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	return b.root, nil
}

// Get statistics for the last build.
func (b *Builder) Stats() (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return Stats{}, ErrReleased
	}
	return b.stats, nil
}

// Release the kernel and drop all callback references. Tree memory is
// owned by the kernel arena and becomes invalid.
func (b *Builder) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.released = true
	b.callbacks = Callbacks{}
	b.prims = nil
	b.root = nil
	return b.kernel.Release()
}
