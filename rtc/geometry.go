package rtc

// #include <embree4/rtcore.h>
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/view"
	"github.com/go-gl/mathgl/mgl32"
)

// GeometryType selects the primitive kind of a geometry.
type GeometryType uint32

// Supported geometry types.
const (
	GeometryTriangle             GeometryType = C.RTC_GEOMETRY_TYPE_TRIANGLE
	GeometryQuad                 GeometryType = C.RTC_GEOMETRY_TYPE_QUAD
	GeometryGrid                 GeometryType = C.RTC_GEOMETRY_TYPE_GRID
	GeometrySubdivision          GeometryType = C.RTC_GEOMETRY_TYPE_SUBDIVISION
	GeometryRoundLinearCurve     GeometryType = C.RTC_GEOMETRY_TYPE_ROUND_LINEAR_CURVE
	GeometryFlatLinearCurve      GeometryType = C.RTC_GEOMETRY_TYPE_FLAT_LINEAR_CURVE
	GeometryRoundBezierCurve     GeometryType = C.RTC_GEOMETRY_TYPE_ROUND_BEZIER_CURVE
	GeometryFlatBezierCurve      GeometryType = C.RTC_GEOMETRY_TYPE_FLAT_BEZIER_CURVE
	GeometryRoundBSplineCurve    GeometryType = C.RTC_GEOMETRY_TYPE_ROUND_BSPLINE_CURVE
	GeometryFlatBSplineCurve     GeometryType = C.RTC_GEOMETRY_TYPE_FLAT_BSPLINE_CURVE
	GeometryRoundCatmullRomCurve GeometryType = C.RTC_GEOMETRY_TYPE_ROUND_CATMULL_ROM_CURVE
	GeometryFlatCatmullRomCurve  GeometryType = C.RTC_GEOMETRY_TYPE_FLAT_CATMULL_ROM_CURVE
	GeometrySpherePoint          GeometryType = C.RTC_GEOMETRY_TYPE_SPHERE_POINT
	GeometryDiscPoint            GeometryType = C.RTC_GEOMETRY_TYPE_DISC_POINT
	GeometryOrientedDiscPoint    GeometryType = C.RTC_GEOMETRY_TYPE_ORIENTED_DISC_POINT
	GeometryUser                 GeometryType = C.RTC_GEOMETRY_TYPE_USER
	GeometryInstance             GeometryType = C.RTC_GEOMETRY_TYPE_INSTANCE
)

func (t GeometryType) String() string {
	switch t {
	case GeometryTriangle:
		return "triangle"
	case GeometryQuad:
		return "quad"
	case GeometryGrid:
		return "grid"
	case GeometrySubdivision:
		return "subdivision"
	case GeometryRoundLinearCurve, GeometryFlatLinearCurve,
		GeometryRoundBezierCurve, GeometryFlatBezierCurve,
		GeometryRoundBSplineCurve, GeometryFlatBSplineCurve,
		GeometryRoundCatmullRomCurve, GeometryFlatCatmullRomCurve:
		return "curve"
	case GeometrySpherePoint, GeometryDiscPoint, GeometryOrientedDiscPoint:
		return "point"
	case GeometryUser:
		return "user"
	case GeometryInstance:
		return "instance"
	}
	return fmt.Sprintf("geometry(%d)", uint32(t))
}

// BufferType identifies the role of a geometry buffer.
type BufferType uint32

// Supported buffer types.
const (
	BufferIndex              BufferType = C.RTC_BUFFER_TYPE_INDEX
	BufferVertex             BufferType = C.RTC_BUFFER_TYPE_VERTEX
	BufferVertexAttribute    BufferType = C.RTC_BUFFER_TYPE_VERTEX_ATTRIBUTE
	BufferNormal             BufferType = C.RTC_BUFFER_TYPE_NORMAL
	BufferTangent            BufferType = C.RTC_BUFFER_TYPE_TANGENT
	BufferGrid               BufferType = C.RTC_BUFFER_TYPE_GRID
	BufferFace               BufferType = C.RTC_BUFFER_TYPE_FACE
	BufferLevel              BufferType = C.RTC_BUFFER_TYPE_LEVEL
	BufferEdgeCreaseIndex    BufferType = C.RTC_BUFFER_TYPE_EDGE_CREASE_INDEX
	BufferEdgeCreaseWeight   BufferType = C.RTC_BUFFER_TYPE_EDGE_CREASE_WEIGHT
	BufferVertexCreaseIndex  BufferType = C.RTC_BUFFER_TYPE_VERTEX_CREASE_INDEX
	BufferVertexCreaseWeight BufferType = C.RTC_BUFFER_TYPE_VERTEX_CREASE_WEIGHT
	BufferHole               BufferType = C.RTC_BUFFER_TYPE_HOLE
	BufferFlags              BufferType = C.RTC_BUFFER_TYPE_FLAGS
)

// Format describes the layout of a buffer item.
type Format uint32

// Common item formats.
const (
	FormatUndefined           Format = C.RTC_FORMAT_UNDEFINED
	FormatUint                Format = C.RTC_FORMAT_UINT
	FormatUint2               Format = C.RTC_FORMAT_UINT2
	FormatUint3               Format = C.RTC_FORMAT_UINT3
	FormatUint4               Format = C.RTC_FORMAT_UINT4
	FormatFloat               Format = C.RTC_FORMAT_FLOAT
	FormatFloat2              Format = C.RTC_FORMAT_FLOAT2
	FormatFloat3              Format = C.RTC_FORMAT_FLOAT3
	FormatFloat4              Format = C.RTC_FORMAT_FLOAT4
	FormatFloat3x4ColumnMajor Format = C.RTC_FORMAT_FLOAT3X4_COLUMN_MAJOR
	FormatFloat4x4ColumnMajor Format = C.RTC_FORMAT_FLOAT4X4_COLUMN_MAJOR
	FormatGrid                Format = C.RTC_FORMAT_GRID
)

// A buffer slot of a geometry.
type slotKey struct {
	typ  BufferType
	slot uint32
}

// Go references held on behalf of a geometry slot.
type slotRef struct {
	buffer *Buffer
	shared *memory.Shared
}

func (r slotRef) release() {
	if r.buffer != nil {
		_ = r.buffer.Release()
	}
	if r.shared != nil {
		r.shared.Release()
	}
}

// State shared by every wrapper of the same native geometry.
type geometryState struct {
	mu       sync.Mutex
	typ      GeometryType
	wrappers int
	slots    map[slotKey]slotRef

	// Scene referenced by an instance geometry. Its attached geometries,
	// and the memory they share, stay alive while the instance does.
	instanced *Scene
}

// Swap the references held for a slot.
func (s *geometryState) setSlot(key slotKey, ref slotRef) {
	s.mu.Lock()
	prev, found := s.slots[key]
	if ref.buffer == nil && ref.shared == nil {
		delete(s.slots, key)
	} else {
		s.slots[key] = ref
	}
	s.mu.Unlock()

	if found {
		prev.release()
	}
}

// Swap the scene referenced by an instance geometry.
func (s *geometryState) setInstanced(scene *Scene) {
	s.mu.Lock()
	prev := s.instanced
	s.instanced = scene
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Release()
	}
}

// Geometry wraps a native geometry.
type Geometry struct {
	mu       sync.Mutex
	device   C.RTCDevice
	handle   C.RTCGeometry
	state    *geometryState
	released bool
}

func newGeometry(device C.RTCDevice, handle C.RTCGeometry, typ GeometryType) *Geometry {
	return &Geometry{
		device: device,
		handle: handle,
		state: &geometryState{
			typ:      typ,
			wrappers: 1,
			slots:    make(map[slotKey]slotRef),
		},
	}
}

// Get a new wrapper that owns an additional reference to the geometry.
func (g *Geometry) Retain() (*Geometry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil, ErrReleased
	}
	C.rtcRetainGeometry(g.handle)

	g.state.mu.Lock()
	g.state.wrappers++
	g.state.mu.Unlock()
	return &Geometry{device: g.device, handle: g.handle, state: g.state}, nil
}

// Drop the reference owned by this wrapper. Releasing the last wrapper
// drops every buffer, shared memory and instanced scene reference held by
// the geometry.
func (g *Geometry) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return ErrReleased
	}
	g.released = true

	g.state.mu.Lock()
	g.state.wrappers--
	var refs []slotRef
	var instanced *Scene
	if g.state.wrappers == 0 {
		for key, ref := range g.state.slots {
			refs = append(refs, ref)
			delete(g.state.slots, key)
		}
		instanced, g.state.instanced = g.state.instanced, nil
	}
	g.state.mu.Unlock()

	C.rtcReleaseGeometry(g.handle)
	for _, ref := range refs {
		ref.release()
	}
	if instanced != nil {
		_ = instanced.Release()
	}
	return nil
}

// Run fn with the native handle while holding the release guard.
func (g *Geometry) with(fn func(C.RTCGeometry) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return ErrReleased
	}
	return fn(g.handle)
}

// Run fn and report any error the device recorded while it ran.
func (g *Geometry) call(op string, fn func(C.RTCGeometry)) error {
	return g.with(func(h C.RTCGeometry) error {
		if err := deviceCall(g.device, func() { fn(h) }); err != nil {
			return fmt.Errorf("rtc: %s: %w", op, err)
		}
		return nil
	})
}

// Get the geometry type.
func (g *Geometry) Type() (GeometryType, error) {
	var typ GeometryType
	err := g.with(func(C.RTCGeometry) error {
		typ = g.state.typ
		return nil
	})
	return typ, err
}

// Commit pending changes. Geometries must be committed before the scene
// they are attached to.
func (g *Geometry) Commit() error {
	return g.call("geometry commit", func(h C.RTCGeometry) {
		C.rtcCommitGeometry(h)
	})
}

func (g *Geometry) Enable() error {
	return g.call("enable geometry", func(h C.RTCGeometry) {
		C.rtcEnableGeometry(h)
	})
}

func (g *Geometry) Disable() error {
	return g.call("disable geometry", func(h C.RTCGeometry) {
		C.rtcDisableGeometry(h)
	})
}

// Set the mask tested against ray masks.
func (g *Geometry) SetMask(mask uint32) error {
	return g.call("set geometry mask", func(h C.RTCGeometry) {
		C.rtcSetGeometryMask(h, C.uint(mask))
	})
}

func (g *Geometry) SetBuildQuality(quality BuildQuality) error {
	return g.call("set geometry build quality", func(h C.RTCGeometry) {
		C.rtcSetGeometryBuildQuality(h, C.enum_RTCBuildQuality(quality))
	})
}

// Set the number of motion blur time steps.
func (g *Geometry) SetTimeStepCount(count uint32) error {
	return g.call("set time step count", func(h C.RTCGeometry) {
		C.rtcSetGeometryTimeStepCount(h, C.uint(count))
	})
}

func (g *Geometry) SetVertexAttributeCount(count uint32) error {
	return g.call("set vertex attribute count", func(h C.RTCGeometry) {
		C.rtcSetGeometryVertexAttributeCount(h, C.uint(count))
	})
}

// Set the primitive count of a user geometry.
func (g *Geometry) SetUserPrimitiveCount(count uint32) error {
	return g.call("set user primitive count", func(h C.RTCGeometry) {
		C.rtcSetGeometryUserPrimitiveCount(h, C.uint(count))
	})
}

// Set the scene referenced by an instance geometry. The geometry keeps the
// scene alive until another scene is set or the geometry is released.
func (g *Geometry) SetInstancedScene(scene *Scene) error {
	ref, err := scene.Retain()
	if err != nil {
		return err
	}
	sceneHandle, _ := ref.native()

	err = g.call("set instanced scene", func(h C.RTCGeometry) {
		C.rtcSetGeometryInstancedScene(h, sceneHandle)
	})
	if err != nil {
		_ = ref.Release()
		return err
	}
	g.state.setInstanced(ref)
	return nil
}

// Set the transformation of an instance geometry for a time step.
func (g *Geometry) SetTransform(timeStep uint32, xfm mgl32.Mat4) error {
	return g.call("set transform", func(h C.RTCGeometry) {
		C.rtcSetGeometryTransform(h, C.uint(timeStep), C.RTC_FORMAT_FLOAT4X4_COLUMN_MAJOR, unsafe.Pointer(&xfm[0]))
	})
}

// Set the tessellation rate of subdivision and curve geometries.
func (g *Geometry) SetTessellationRate(rate float32) error {
	return g.call("set tessellation rate", func(h C.RTCGeometry) {
		C.rtcSetGeometryTessellationRate(h, C.float(rate))
	})
}

// Bind a range of buffer to a geometry slot. The geometry keeps the buffer
// alive until the slot is replaced or the geometry is released.
func (g *Geometry) SetBuffer(typ BufferType, slot uint32, format Format, buffer *Buffer, byteOffset, byteStride, itemCount uintptr) error {
	ref, err := buffer.Retain()
	if err != nil {
		return err
	}
	bufHandle, _ := ref.native()

	err = g.call("set geometry buffer", func(h C.RTCGeometry) {
		C.rtcSetGeometryBuffer(h, C.enum_RTCBufferType(typ), C.uint(slot), C.enum_RTCFormat(format),
			bufHandle, C.size_t(byteOffset), C.size_t(byteStride), C.size_t(itemCount))
	})
	if err != nil {
		_ = ref.Release()
		return err
	}
	g.state.setSlot(slotKey{typ, slot}, slotRef{buffer: ref})
	return nil
}

// Allocate a library owned buffer for a geometry slot and return a view of
// its memory. The view is valid while the slot is bound.
func (g *Geometry) SetNewBuffer(typ BufferType, slot uint32, format Format, byteStride, itemCount uintptr) (view.View[byte], error) {
	var data view.View[byte]
	err := g.with(func(h C.RTCGeometry) error {
		var ptr unsafe.Pointer
		err := deviceCall(g.device, func() {
			ptr = C.rtcSetNewGeometryBuffer(h, C.enum_RTCBufferType(typ), C.uint(slot), C.enum_RTCFormat(format),
				C.size_t(byteStride), C.size_t(itemCount))
		})
		if ptr == nil {
			return opError("set new geometry buffer", err)
		}

		data, err = view.FromPointer[byte](ptr, int64(byteStride*itemCount))
		return err
	})
	if err != nil {
		return view.View[byte]{}, err
	}
	g.state.setSlot(slotKey{typ, slot}, slotRef{})
	return data, nil
}

// Bind caller memory to a geometry slot without copying. The geometry
// holds a reference to shared until the slot is replaced or the geometry
// is released.
func (g *Geometry) SetSharedBuffer(typ BufferType, slot uint32, format Format, shared *memory.Shared, byteOffset, byteStride, itemCount uintptr) error {
	if err := shared.Retain(); err != nil {
		return err
	}
	if !rangeFits(byteOffset, byteStride, itemCount, shared.Size()) {
		shared.Release()
		return fmt.Errorf("rtc: shared buffer of %d bytes is too small for %d items of stride %d at offset %d: %w",
			shared.Size(), itemCount, byteStride, byteOffset, view.ErrOutOfRange)
	}

	err := g.call("set shared geometry buffer", func(h C.RTCGeometry) {
		C.rtcSetSharedGeometryBuffer(h, C.enum_RTCBufferType(typ), C.uint(slot), C.enum_RTCFormat(format),
			shared.Pointer(), C.size_t(byteOffset), C.size_t(byteStride), C.size_t(itemCount))
	})
	if err != nil {
		shared.Release()
		return err
	}
	g.state.setSlot(slotKey{typ, slot}, slotRef{shared: shared})
	return nil
}

// Check that itemCount items of byteStride bytes starting at byteOffset fit
// in size bytes without overflowing.
func rangeFits(byteOffset, byteStride, itemCount, size uintptr) bool {
	if byteOffset > size {
		return false
	}
	if itemCount == 0 {
		return true
	}
	return byteStride <= (size-byteOffset)/itemCount
}

// Mark a buffer slot as modified. Must be followed by Commit.
func (g *Geometry) UpdateBuffer(typ BufferType, slot uint32) error {
	return g.call("update geometry buffer", func(h C.RTCGeometry) {
		C.rtcUpdateGeometryBuffer(h, C.enum_RTCBufferType(typ), C.uint(slot))
	})
}

// Get the native handle while holding the release guard.
func (g *Geometry) native() (C.RTCGeometry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil, ErrReleased
	}
	return g.handle, nil
}
