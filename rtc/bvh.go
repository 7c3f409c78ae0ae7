package rtc

// #include <stdbool.h>
// #include <stdint.h>
// #include <embree4/rtcore.h>
//
// void* rtcgo_create_node(RTCThreadLocalAllocator alloc, unsigned int childCount, void* userPtr);
// void rtcgo_set_node_children(void* node, void** children, unsigned int childCount, void* userPtr);
// void rtcgo_set_node_bounds(void* node, const struct RTCBounds** bounds, unsigned int childCount, void* userPtr);
// void* rtcgo_create_leaf(RTCThreadLocalAllocator alloc, const struct RTCBuildPrimitive* prims, size_t primCount, void* userPtr);
// void rtcgo_split_primitive(const struct RTCBuildPrimitive* prim, unsigned int dim, float pos, struct RTCBounds* lprim, struct RTCBounds* rprim, void* userPtr);
// bool rtcgo_progress(void* userPtr, double n);
//
// typedef struct {
//   unsigned int quality;
//   unsigned int flags;
//   unsigned int maxBranchingFactor;
//   unsigned int maxDepth;
//   unsigned int sahBlockSize;
//   unsigned int minLeafSize;
//   unsigned int maxLeafSize;
//   float traversalCost;
//   float intersectionCost;
// } rtcgo_build_options;
//
// static void* rtcgo_build_bvh(RTCBVH bvh, const rtcgo_build_options* opts, void* prims, size_t count, size_t capacity, int split, uintptr_t handle) {
//   struct RTCBuildArguments args = rtcDefaultBuildArguments();
//   args.byteSize = sizeof(args);
//   args.buildQuality = (enum RTCBuildQuality)opts->quality;
//   args.buildFlags = (enum RTCBuildFlags)opts->flags;
//   args.maxBranchingFactor = opts->maxBranchingFactor;
//   args.maxDepth = opts->maxDepth;
//   args.sahBlockSize = opts->sahBlockSize;
//   args.minLeafSize = opts->minLeafSize;
//   args.maxLeafSize = opts->maxLeafSize;
//   args.traversalCost = opts->traversalCost;
//   args.intersectionCost = opts->intersectionCost;
//   args.bvh = bvh;
//   args.primitives = (struct RTCBuildPrimitive*)prims;
//   args.primitiveCount = count;
//   args.primitiveArrayCapacity = capacity;
//   args.createNode = rtcgo_create_node;
//   args.setNodeChildren = rtcgo_set_node_children;
//   args.setNodeBounds = rtcgo_set_node_bounds;
//   args.createLeaf = rtcgo_create_leaf;
//   args.splitPrimitive = split ? rtcgo_split_primitive : NULL;
//   args.buildProgress = rtcgo_progress;
//   args.userPtr = (void*)handle;
//   return rtcBuildBVH(&args);
// }
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/log"
)

// nativeAllocator serves callback allocations from the thread-local arena
// of the native worker that issued the callback.
type nativeAllocator struct {
	alloc unsafe.Pointer
}

func (a nativeAllocator) Alloc(size, alignment uintptr) unsafe.Pointer {
	return C.rtcThreadLocalAlloc(C.RTCThreadLocalAllocator(a.alloc), C.size_t(size), C.size_t(alignment))
}

// BVH wraps a native BVH object. It implements bvh.Kernel; tree memory
// lives in its arena and is recycled by the next build or by Release.
type BVH struct {
	logger log.Logger

	mu       sync.Mutex
	device   C.RTCDevice
	handle   C.RTCBVH
	released bool
}

var _ bvh.Kernel = (*BVH)(nil)

func newBVH(device C.RTCDevice, handle C.RTCBVH) *BVH {
	return &BVH{
		logger: log.New("rtc"),
		device: device,
		handle: handle,
	}
}

// Create a builder that uses this BVH as its kernel. The builder owns the
// BVH reference and releases it when the builder is released.
func (b *BVH) NewBuilder(callbacks bvh.Callbacks) (*bvh.Builder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	return bvh.NewBuilder(b, callbacks), nil
}

// Get a new wrapper that owns an additional reference to the BVH.
func (b *BVH) Retain() (*BVH, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}
	C.rtcRetainBVH(b.handle)
	return &BVH{logger: b.logger, device: b.device, handle: b.handle}, nil
}

// Run a build. Implements bvh.Kernel.
func (b *BVH) Build(args *bvh.BuildArguments, d bvh.Dispatcher) (unsafe.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}

	opts := C.rtcgo_build_options{
		quality:            C.uint(args.Quality),
		flags:              C.uint(args.Flags),
		maxBranchingFactor: C.uint(args.MaxBranchingFactor),
		maxDepth:           C.uint(args.MaxDepth),
		sahBlockSize:       C.uint(args.SAHBlockSize),
		minLeafSize:        C.uint(args.MinLeafSize),
		maxLeafSize:        C.uint(args.MaxLeafSize),
		traversalCost:      C.float(args.TraversalCost),
		intersectionCost:   C.float(args.IntersectionCost),
	}

	split := C.int(0)
	if d.CanSplit() {
		split = 1
	}

	handle := cgo.NewHandle(d)
	defer handle.Delete()

	start := time.Now()
	var root unsafe.Pointer
	err := deviceCall(b.device, func() {
		root = C.rtcgo_build_bvh(
			b.handle,
			&opts,
			unsafe.Pointer(unsafe.SliceData(args.Primitives)),
			C.size_t(len(args.Primitives)),
			C.size_t(cap(args.Primitives)),
			split,
			C.uintptr_t(handle),
		)
	})

	if root == nil {
		// A cancelled build also leaves an error code behind; the builder
		// tells cancellations apart through the dispatcher.
		if err != nil {
			return nil, fmt.Errorf("%w: %w", bvh.ErrBuildFailed, err)
		}
		return nil, nil
	}

	b.logger.Debugf("native BVH build time: %d ms, primitives: %d", time.Since(start).Nanoseconds()/1e6, len(args.Primitives))
	return root, nil
}

// Drop the reference owned by this wrapper. Implements bvh.Kernel.
func (b *BVH) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.released = true
	C.rtcReleaseBVH(b.handle)
	return nil
}
