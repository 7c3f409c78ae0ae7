package rtc

import (
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/rtc/config"
	"github.com/achilleasa/go-rtcore/types"
	"github.com/achilleasa/go-rtcore/view"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) *Device {
	dev, err := NewDevice(config.Device{})
	require.NoError(t, err)
	return dev
}

func TestDeviceProperties(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	major, err := dev.Property(PropertyVersionMajor)
	require.NoError(t, err)
	assert.EqualValues(t, 4, major)

	supported, err := dev.Property(PropertyTriangleGeometrySupported)
	require.NoError(t, err)
	assert.EqualValues(t, 1, supported)

	code, err := dev.Error()
	require.NoError(t, err)
	assert.Equal(t, ErrorNone, code)
}

func TestDeviceRetain(t *testing.T) {
	dev := newTestDevice(t)

	other, err := dev.Retain()
	require.NoError(t, err)
	require.NoError(t, dev.Release())

	// The retained wrapper keeps the device alive.
	scene, err := other.NewScene()
	require.NoError(t, err)
	require.NoError(t, scene.Release())
	require.NoError(t, other.Release())
}

func TestDeviceFromConfig(t *testing.T) {
	dev, err := NewDevice(config.Device{Threads: 2, Verbose: 0, SetAffinity: false, FrequencyLevel: config.FrequencySIMD256})
	require.NoError(t, err)
	require.NoError(t, dev.Release())

	dev, err = NewDeviceFromString("threads=1,verbose=0")
	require.NoError(t, err)
	require.NoError(t, dev.Release())
}

func TestErrorHandler(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	var calls atomic.Int32
	var lastCode atomic.Uint32
	require.NoError(t, dev.SetErrorHandler(func(code Error, msg string) {
		calls.Add(1)
		lastCode.Store(uint32(code))
	}))

	_, err := dev.NewGeometry(GeometryType(0xFFFF))
	assert.Error(t, err)
	assert.Greater(t, calls.Load(), int32(0))
	assert.NotEqual(t, uint32(ErrorNone), lastCode.Load())
}

func TestErrorCodesFollowTheirCall(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := dev.NewGeometry(GeometryType(0xFFFF))
				var code Error
				if !errors.As(err, &code) || code == ErrorNone {
					t.Errorf("expected an error code for an invalid geometry type; got %v", err)
					return
				}
				runtime.Gosched()

				geom, err := dev.NewGeometry(GeometryTriangle)
				if err != nil {
					t.Errorf("valid call picked up a stale error: %v", err)
					return
				}
				geom.Release()
			}
		}()
	}
	wg.Wait()
}

func TestMemoryMonitor(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	var allocated atomic.Int64
	require.NoError(t, dev.SetMemoryMonitor(func(bytes int64, post bool) bool {
		if !post {
			allocated.Add(bytes)
		}
		return true
	}))

	buf, err := dev.NewBuffer(1 << 20)
	require.NoError(t, err)
	require.NoError(t, buf.Release())
	assert.NotZero(t, allocated.Load())

	// Refusing allocations makes them fail.
	require.NoError(t, dev.SetMemoryMonitor(func(bytes int64, post bool) bool {
		return bytes <= 0
	}))
	_, err = dev.NewBuffer(1 << 20)
	assert.Error(t, err)
	require.NoError(t, dev.SetMemoryMonitor(nil))
}

func TestBufferData(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	buf, err := dev.NewBuffer(64)
	require.NoError(t, err)

	size, err := buf.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 64, size)

	data, err := buf.Data()
	require.NoError(t, err)
	assert.EqualValues(t, 64, data.Len())
	require.NoError(t, data.Set(63, 0xAB))
	got, err := data.At(63)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAB, got)

	require.NoError(t, buf.Release())
}

// Build a unit triangle in the z=0 plane.
func newTriangle(t *testing.T, dev *Device) *Geometry {
	geom, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)

	verts, err := geom.SetNewBuffer(BufferVertex, 0, FormatFloat3, 12, 3)
	require.NoError(t, err)
	vf, err := view.Cast[float32](verts)
	require.NoError(t, err)
	span, err := vf.Span()
	require.NoError(t, err)
	copy(span, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0})

	indices, err := geom.SetNewBuffer(BufferIndex, 0, FormatUint3, 12, 1)
	require.NoError(t, err)
	iv, err := view.Cast[uint32](indices)
	require.NoError(t, err)
	ispan, err := iv.Span()
	require.NoError(t, err)
	copy(ispan, []uint32{0, 1, 2})

	require.NoError(t, geom.Commit())
	return geom
}

func TestSceneQueries(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	scene, err := dev.NewScene()
	require.NoError(t, err)
	defer scene.Release()

	geom := newTriangle(t, dev)
	id, err := scene.Attach(geom)
	require.NoError(t, err)
	require.NoError(t, geom.Release())

	rh := types.NewRayHit(types.XYZ(0.25, 0.25, -1), types.XYZ(0, 0, 1), 0, float32(math.Inf(1)))
	assert.ErrorIs(t, scene.Intersect1(&rh), ErrNotCommitted)

	require.NoError(t, scene.Commit())

	bounds, err := scene.Bounds()
	require.NoError(t, err)
	assert.True(t, bounds.ApproxEqual(types.NewBounds(types.XYZ(0, 0, 0), types.XYZ(1, 1, 0)), 1e-6), "%+v", bounds)

	require.NoError(t, scene.Intersect1(&rh))
	require.True(t, rh.DidHit())
	assert.Equal(t, id, rh.Hit.GeomID)
	assert.EqualValues(t, 0, rh.Hit.PrimID)
	assert.InDelta(t, 1.0, rh.Ray.TFar, 1e-5)

	miss := types.NewRayHit(types.XYZ(5, 5, -1), types.XYZ(0, 0, 1), 0, float32(math.Inf(1)))
	require.NoError(t, scene.Intersect1(&miss))
	assert.False(t, miss.DidHit())

	ray := types.NewRay(types.XYZ(0.25, 0.25, -1), types.XYZ(0, 0, 1), 0, float32(math.Inf(1)))
	require.NoError(t, scene.Occluded1(&ray))
	assert.True(t, ray.Occluded())

	attached, err := scene.Geometry(id)
	require.NoError(t, err)
	typ, err := attached.Type()
	require.NoError(t, err)
	assert.Equal(t, GeometryTriangle, typ)
	require.NoError(t, attached.Release())

	require.NoError(t, scene.Detach(id))
	_, err = scene.Geometry(id)
	assert.ErrorIs(t, err, ErrNoSuchGeom)
	assert.ErrorIs(t, scene.Intersect1(&rh), ErrNotCommitted)
}

func TestSharedBufferLifetime(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	shared, err := memory.NewShared(3*12+4, 16)
	require.NoError(t, err)

	geom, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	require.NoError(t, geom.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, 3))
	assert.EqualValues(t, 2, shared.RefCount())

	// Too small for the requested range.
	err = geom.SetSharedBuffer(BufferVertex, 1, FormatFloat3, shared, 12, 12, 3)
	assert.Error(t, err)
	assert.EqualValues(t, 2, shared.RefCount())

	require.NoError(t, shared.Close())
	assert.False(t, shared.Freed(), "attached memory must outlive Close")

	require.NoError(t, geom.Release())
	assert.True(t, shared.Freed())
}

func TestSharedBufferRangeOverflow(t *testing.T) {
	assert.True(t, rangeFits(0, 12, 3, 36))
	assert.True(t, rangeFits(36, 12, 0, 36))
	assert.False(t, rangeFits(4, 12, 3, 36))
	assert.False(t, rangeFits(40, 0, 0, 36))

	// 12 * count wraps around to 12.
	count := ^uintptr(0)/12 + 2
	assert.False(t, rangeFits(0, 12, count, 40))

	dev := newTestDevice(t)
	defer dev.Release()

	shared, err := memory.NewShared(3*12+4, 16)
	require.NoError(t, err)
	defer shared.Close()

	geom, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	defer geom.Release()

	err = geom.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, count)
	assert.ErrorIs(t, err, view.ErrOutOfRange)
	assert.EqualValues(t, 1, shared.RefCount())
}

func TestInstancedSceneKeepsSharedMemory(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	shared, err := memory.NewShared(3*12+4, 16)
	require.NoError(t, err)

	inner, err := dev.NewScene()
	require.NoError(t, err)
	tri, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	require.NoError(t, tri.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, 3))
	_, err = tri.SetNewBuffer(BufferIndex, 0, FormatUint3, 12, 1)
	require.NoError(t, err)
	_, err = inner.Attach(tri)
	require.NoError(t, err)
	require.NoError(t, tri.Release())

	instance, err := dev.NewGeometry(GeometryInstance)
	require.NoError(t, err)
	require.NoError(t, instance.SetInstancedScene(inner))

	outer, err := dev.NewScene()
	require.NoError(t, err)
	_, err = outer.Attach(instance)
	require.NoError(t, err)

	require.NoError(t, shared.Close())
	require.NoError(t, inner.Release())
	assert.False(t, shared.Freed(), "the instance keeps the inner scene alive")

	require.NoError(t, instance.Release())
	assert.False(t, shared.Freed(), "the outer scene keeps the instance alive")

	require.NoError(t, outer.Release())
	assert.True(t, shared.Freed())
}

func TestInstancedSceneReplacement(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	shared, err := memory.NewShared(3*12+4, 16)
	require.NoError(t, err)

	first, err := dev.NewScene()
	require.NoError(t, err)
	tri, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	require.NoError(t, tri.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, 3))
	_, err = first.Attach(tri)
	require.NoError(t, err)
	require.NoError(t, tri.Release())

	second, err := dev.NewScene()
	require.NoError(t, err)
	defer second.Release()

	instance, err := dev.NewGeometry(GeometryInstance)
	require.NoError(t, err)
	defer instance.Release()
	require.NoError(t, instance.SetInstancedScene(first))

	require.NoError(t, shared.Close())
	require.NoError(t, first.Release())
	assert.False(t, shared.Freed())

	require.NoError(t, instance.SetInstancedScene(second))
	assert.True(t, shared.Freed(), "replacing the instanced scene drops the previous one")
}

func TestSharedBufferSlotReplacement(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()

	shared, err := memory.NewShared(3*12+4, 16)
	require.NoError(t, err)
	defer shared.Close()

	geom, err := dev.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	require.NoError(t, geom.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, 3))
	assert.EqualValues(t, 2, shared.RefCount())

	_, err = geom.SetNewBuffer(BufferVertex, 0, FormatFloat3, 12, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, shared.RefCount())

	buf, err := dev.NewSharedBuffer(shared)
	require.NoError(t, err)
	assert.EqualValues(t, 2, shared.RefCount())
	require.NoError(t, geom.SetBuffer(BufferVertex, 0, FormatFloat3, buf, 0, 12, 3))
	require.NoError(t, buf.Release())
	assert.EqualValues(t, 2, shared.RefCount(), "the geometry keeps the buffer alive")

	require.NoError(t, geom.Release())
	assert.EqualValues(t, 1, shared.RefCount())
}

func TestReleasedHandles(t *testing.T) {
	// Live objects passed to released ones must come back unchanged.
	live := newTestDevice(t)
	defer live.Release()
	liveGeom, err := live.NewGeometry(GeometryTriangle)
	require.NoError(t, err)
	defer liveGeom.Release()
	liveBuf, err := live.NewBuffer(48)
	require.NoError(t, err)
	defer liveBuf.Release()
	shared, err := memory.NewShared(48, 16)
	require.NoError(t, err)
	defer shared.Close()

	dev := newTestDevice(t)
	scene, err := dev.NewScene()
	require.NoError(t, err)
	geom, err := dev.NewGeometry(GeometryInstance)
	require.NoError(t, err)
	buf, err := dev.NewBuffer(16)
	require.NoError(t, err)
	bvhHandle, err := dev.NewBVH()
	require.NoError(t, err)

	require.NoError(t, scene.Release())
	require.NoError(t, geom.Release())
	require.NoError(t, buf.Release())
	require.NoError(t, bvhHandle.Release())
	require.NoError(t, dev.Release())

	// Device
	_, err = dev.Retain()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.Property(PropertyVersion)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.Error()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, dev.SetErrorHandler(nil), ErrReleased)
	assert.ErrorIs(t, dev.SetMemoryMonitor(nil), ErrReleased)
	_, err = dev.NewScene()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.NewGeometry(GeometryTriangle)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.NewBuffer(16)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.NewSharedBuffer(shared)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.NewBVH()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, dev.Release(), ErrReleased)

	// Scene
	_, err = scene.Retain()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, scene.Commit(), ErrReleased)
	assert.ErrorIs(t, scene.JoinCommit(), ErrReleased)
	assert.ErrorIs(t, scene.Detach(0), ErrReleased)
	assert.ErrorIs(t, scene.SetFlags(SceneFlagRobust), ErrReleased)
	assert.ErrorIs(t, scene.SetBuildQuality(bvh.QualityHigh), ErrReleased)
	_, err = scene.Flags()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = scene.Bounds()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = scene.Geometry(0)
	assert.ErrorIs(t, err, ErrReleased)
	var rh types.RayHit
	assert.ErrorIs(t, scene.Intersect1(&rh), ErrReleased)
	assert.ErrorIs(t, scene.Occluded1(&rh.Ray), ErrReleased)
	_, err = scene.Attach(liveGeom)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, scene.AttachByID(liveGeom, 3), ErrReleased)
	assert.ErrorIs(t, liveGeom.SetInstancedScene(scene), ErrReleased)
	assert.ErrorIs(t, scene.Release(), ErrReleased)

	// Geometry
	_, err = geom.Retain()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = geom.Type()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, geom.Commit(), ErrReleased)
	assert.ErrorIs(t, geom.Enable(), ErrReleased)
	assert.ErrorIs(t, geom.Disable(), ErrReleased)
	assert.ErrorIs(t, geom.SetMask(1), ErrReleased)
	assert.ErrorIs(t, geom.SetBuildQuality(bvh.QualityLow), ErrReleased)
	assert.ErrorIs(t, geom.SetTimeStepCount(1), ErrReleased)
	assert.ErrorIs(t, geom.SetVertexAttributeCount(1), ErrReleased)
	assert.ErrorIs(t, geom.SetUserPrimitiveCount(1), ErrReleased)
	assert.ErrorIs(t, geom.SetInstancedScene(scene), ErrReleased)
	assert.ErrorIs(t, geom.SetTessellationRate(2), ErrReleased)
	assert.ErrorIs(t, geom.SetTransform(0, mgl32.Ident4()), ErrReleased)
	assert.ErrorIs(t, geom.SetBuffer(BufferVertex, 0, FormatFloat3, liveBuf, 0, 12, 3), ErrReleased)
	assert.ErrorIs(t, geom.SetSharedBuffer(BufferVertex, 0, FormatFloat3, shared, 0, 12, 3), ErrReleased)
	assert.EqualValues(t, 1, shared.RefCount())
	assert.ErrorIs(t, geom.UpdateBuffer(BufferVertex, 0), ErrReleased)
	_, err = geom.SetNewBuffer(BufferVertex, 0, FormatFloat3, 12, 3)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, scene.AttachByID(geom, 1), ErrReleased)
	_, err = scene.Attach(geom)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, geom.Release(), ErrReleased)

	// Buffer
	_, err = buf.Retain()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = buf.Data()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = buf.Size()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, buf.Release(), ErrReleased)

	// BVH
	_, err = bvhHandle.Retain()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = bvhHandle.Build(&bvh.BuildArguments{}, nil)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = bvhHandle.NewBuilder(bvh.Callbacks{})
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, bvhHandle.Release(), ErrReleased)
}

type nativeNode struct {
	isLeaf   uint32
	_        uint32
	children [2]unsafe.Pointer
	bounds   [2]types.Bounds
}

type nativeLeaf struct {
	isLeaf uint32
	primID uint32
}

func TestNativeBuildBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large native build in short mode")
	}

	const count = 2300000
	rng := rand.New(rand.NewSource(1))
	prims := make([]types.BuildPrimitive, count)
	for i := range prims {
		lower := types.XYZ(rng.Float32()*1000, rng.Float32()*1000, rng.Float32()*1000)
		prims[i] = types.NewBuildPrimitive(types.NewBounds(lower, lower.Add(types.XYZ(1, 1, 1))), 0, uint32(i))
	}
	exp := types.PrimitiveBounds(prims)

	dev := newTestDevice(t)
	defer dev.Release()
	handle, err := dev.NewBVH()
	require.NoError(t, err)

	var leaves atomic.Int64
	builder, err := handle.NewBuilder(bvh.Callbacks{
		CreateNode: func(alloc bvh.Allocator, childCount int) unsafe.Pointer {
			ptr := alloc.Alloc(unsafe.Sizeof(nativeNode{}), 16)
			*(*nativeNode)(ptr) = nativeNode{}
			return ptr
		},
		SetNodeChildren: func(node unsafe.Pointer, children []unsafe.Pointer) {
			n := (*nativeNode)(node)
			copy(n.children[:], children)
		},
		SetNodeBounds: func(node unsafe.Pointer, bounds []*types.Bounds) {
			n := (*nativeNode)(node)
			for i, b := range bounds {
				n.bounds[i] = *b
			}
		},
		CreateLeaf: func(alloc bvh.Allocator, prims []types.BuildPrimitive) unsafe.Pointer {
			leaves.Add(1)
			ptr := alloc.Alloc(unsafe.Sizeof(nativeLeaf{}), 8)
			*(*nativeLeaf)(ptr) = nativeLeaf{isLeaf: 1, primID: prims[0].PrimID}
			return ptr
		},
	})
	require.NoError(t, err)
	defer builder.Release()

	require.NoError(t, builder.SetPrimitives(prims))
	root, err := builder.Build()
	require.NoError(t, err)
	require.NotNil(t, root)

	rootNode := (*nativeNode)(root)
	require.Zero(t, rootNode.isLeaf)
	got := rootNode.bounds[0].Union(rootNode.bounds[1])
	assert.True(t, got.ApproxEqual(exp, 1e-6), "expected %+v; got %+v", exp, got)
	assert.Greater(t, leaves.Load(), int64(0))
}

func TestNativeBuildCancellation(t *testing.T) {
	dev := newTestDevice(t)
	defer dev.Release()
	handle, err := dev.NewBVH()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	prims := make([]types.BuildPrimitive, 100000)
	for i := range prims {
		lower := types.XYZ(rng.Float32()*100, rng.Float32()*100, rng.Float32()*100)
		prims[i] = types.NewBuildPrimitive(types.NewBounds(lower, lower.Add(types.XYZ(1, 1, 1))), 0, uint32(i))
	}

	builder, err := handle.NewBuilder(bvh.Callbacks{
		CreateNode: func(alloc bvh.Allocator, childCount int) unsafe.Pointer {
			return alloc.Alloc(unsafe.Sizeof(nativeNode{}), 16)
		},
		SetNodeChildren: func(unsafe.Pointer, []unsafe.Pointer) {},
		SetNodeBounds:   func(unsafe.Pointer, []*types.Bounds) {},
		CreateLeaf: func(alloc bvh.Allocator, prims []types.BuildPrimitive) unsafe.Pointer {
			return alloc.Alloc(unsafe.Sizeof(nativeLeaf{}), 8)
		},
		Progress: func(float64) bool { return false },
	})
	require.NoError(t, err)
	defer builder.Release()

	require.NoError(t, builder.SetPrimitives(prims))
	root, err := builder.Build()
	assert.ErrorIs(t, err, bvh.ErrBuildCancelled)
	assert.Nil(t, root)
}

// Multiply at run time so the product observes the MXCSR mode.
//
//go:noinline
func denormalProduct(tiny, one float32) float32 {
	return tiny * one
}

func TestFlushToZero(t *testing.T) {
	// Keep the test on one thread so the restored state can be inspected.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tiny := float32(1e-39)
	before := FlushToZeroEnabled()
	require.False(t, before)

	restore := SetFlushToZero()
	if runtime.GOARCH == "amd64" {
		assert.True(t, FlushToZeroEnabled())
		assert.Zero(t, denormalProduct(tiny, 1))
	} else {
		assert.False(t, FlushToZeroEnabled())
	}

	restore()
	restore()
	assert.Equal(t, before, FlushToZeroEnabled())
	assert.Equal(t, tiny, denormalProduct(tiny, 1))
}

func TestFlushToZeroDoesNotLeak(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			restore := SetFlushToZero()
			restore()
		}()
	}
	wg.Wait()

	var leaked atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if FlushToZeroEnabled() {
				leaked.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, leaked.Load(), "goroutines observed flush-to-zero after restore")
}
