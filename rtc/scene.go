package rtc

// #include <string.h>
// #include <embree4/rtcore.h>
//
// static void rtcgo_intersect1(RTCScene scene, void* rayhit, size_t hitSize) {
//   struct RTCRayHit rh;
//   memcpy(&rh.ray, rayhit, sizeof(struct RTCRay));
//   memset(&rh.hit, 0, sizeof(struct RTCHit));
//   rh.hit.geomID = RTC_INVALID_GEOMETRY_ID;
//   rh.hit.primID = RTC_INVALID_GEOMETRY_ID;
//   for (int i = 0; i < RTC_MAX_INSTANCE_LEVEL_COUNT; i++) {
//     rh.hit.instID[i] = RTC_INVALID_GEOMETRY_ID;
//   }
//   rtcIntersect1(scene, &rh, NULL);
//   memcpy(rayhit, &rh.ray, sizeof(struct RTCRay));
//   memcpy((char*)rayhit + sizeof(struct RTCRay), &rh.hit, hitSize < sizeof(struct RTCHit) ? hitSize : sizeof(struct RTCHit));
// }
//
// static void rtcgo_occluded1(RTCScene scene, void* ray) {
//   struct RTCRay r;
//   memcpy(&r, ray, sizeof(struct RTCRay));
//   rtcOccluded1(scene, &r, NULL);
//   memcpy(ray, &r, sizeof(struct RTCRay));
// }
//
// static void rtcgo_scene_bounds(RTCScene scene, void* out) {
//   struct RTCBounds b;
//   rtcGetSceneBounds(scene, &b);
//   memcpy(out, &b, sizeof(struct RTCBounds));
// }
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/types"
)

// BuildQuality shares the native enumeration with the BVH builder.
type BuildQuality = bvh.Quality

// SceneFlags tune scene construction and queries.
type SceneFlags uint32

// Supported scene flags.
const (
	SceneFlagNone    SceneFlags = C.RTC_SCENE_FLAG_NONE
	SceneFlagDynamic SceneFlags = C.RTC_SCENE_FLAG_DYNAMIC
	SceneFlagCompact SceneFlags = C.RTC_SCENE_FLAG_COMPACT
	SceneFlagRobust  SceneFlags = C.RTC_SCENE_FLAG_ROBUST
)

// State shared by every wrapper of the same native scene.
type sceneState struct {
	mu        sync.Mutex
	wrappers  int
	committed bool

	// Attached geometries by id. The scene owns one wrapper per geometry.
	geoms map[uint32]*Geometry
}

// Scene wraps a native scene.
type Scene struct {
	mu       sync.Mutex
	device   C.RTCDevice
	handle   C.RTCScene
	state    *sceneState
	released bool
}

func newScene(device C.RTCDevice, handle C.RTCScene) *Scene {
	return &Scene{
		device: device,
		handle: handle,
		state: &sceneState{
			wrappers: 1,
			geoms:    make(map[uint32]*Geometry),
		},
	}
}

// Get a new wrapper that owns an additional reference to the scene.
func (s *Scene) Retain() (*Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}
	C.rtcRetainScene(s.handle)

	s.state.mu.Lock()
	s.state.wrappers++
	s.state.mu.Unlock()
	return &Scene{device: s.device, handle: s.handle, state: s.state}, nil
}

// Drop the reference owned by this wrapper. Releasing the last wrapper
// releases the scene's references to attached geometries.
func (s *Scene) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	s.released = true

	s.state.mu.Lock()
	s.state.wrappers--
	var geoms []*Geometry
	if s.state.wrappers == 0 {
		for id, g := range s.state.geoms {
			geoms = append(geoms, g)
			delete(s.state.geoms, id)
		}
	}
	s.state.mu.Unlock()

	C.rtcReleaseScene(s.handle)
	for _, g := range geoms {
		_ = g.Release()
	}
	return nil
}

// Run fn with the native handle while holding the release guard.
func (s *Scene) with(fn func(C.RTCScene) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	return fn(s.handle)
}

// Get the native handle while holding the release guard.
func (s *Scene) native() (C.RTCScene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}
	return s.handle, nil
}

// Mark the scene as modified.
func (s *Scene) touch() {
	s.state.mu.Lock()
	s.state.committed = false
	s.state.mu.Unlock()
}

// Track an attached geometry, releasing the reference it replaces.
func (s *Scene) track(id uint32, g *Geometry) {
	s.state.mu.Lock()
	prev := s.state.geoms[id]
	if g == nil {
		delete(s.state.geoms, id)
	} else {
		s.state.geoms[id] = g
	}
	s.state.committed = false
	s.state.mu.Unlock()

	if prev != nil {
		_ = prev.Release()
	}
}

// Attach a geometry and return its id.
func (s *Scene) Attach(g *Geometry) (uint32, error) {
	ref, err := g.Retain()
	if err != nil {
		return 0, err
	}
	geomHandle, _ := ref.native()

	var id uint32
	err = s.with(func(h C.RTCScene) error {
		err := deviceCall(s.device, func() {
			id = uint32(C.rtcAttachGeometry(h, geomHandle))
		})
		if id == types.InvalidGeometryID {
			return opError("attach geometry", err)
		}
		return nil
	})
	if err != nil {
		_ = ref.Release()
		return 0, err
	}
	s.track(id, ref)
	return id, nil
}

// Attach a geometry using a caller chosen id.
func (s *Scene) AttachByID(g *Geometry, id uint32) error {
	ref, err := g.Retain()
	if err != nil {
		return err
	}
	geomHandle, _ := ref.native()

	err = s.with(func(h C.RTCScene) error {
		err := deviceCall(s.device, func() {
			C.rtcAttachGeometryByID(h, geomHandle, C.uint(id))
		})
		if err != nil {
			return fmt.Errorf("rtc: attach geometry %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		_ = ref.Release()
		return err
	}
	s.track(id, ref)
	return nil
}

// Detach the geometry with the given id.
func (s *Scene) Detach(id uint32) error {
	err := s.with(func(h C.RTCScene) error {
		err := deviceCall(s.device, func() {
			C.rtcDetachGeometry(h, C.uint(id))
		})
		if err != nil {
			return fmt.Errorf("rtc: detach geometry %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.track(id, nil)
	return nil
}

// Get a new wrapper for an attached geometry. The caller must release it.
func (s *Scene) Geometry(id uint32) (*Geometry, error) {
	if err := s.with(func(C.RTCScene) error { return nil }); err != nil {
		return nil, err
	}

	s.state.mu.Lock()
	g := s.state.geoms[id]
	s.state.mu.Unlock()
	if g == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchGeom, id)
	}
	return g.Retain()
}

func (s *Scene) SetBuildQuality(quality BuildQuality) error {
	err := s.with(func(h C.RTCScene) error {
		return deviceCall(s.device, func() {
			C.rtcSetSceneBuildQuality(h, C.enum_RTCBuildQuality(quality))
		})
	})
	if err == nil {
		s.touch()
	}
	return err
}

func (s *Scene) SetFlags(flags SceneFlags) error {
	err := s.with(func(h C.RTCScene) error {
		return deviceCall(s.device, func() {
			C.rtcSetSceneFlags(h, C.enum_RTCSceneFlags(flags))
		})
	})
	if err == nil {
		s.touch()
	}
	return err
}

func (s *Scene) Flags() (SceneFlags, error) {
	var flags SceneFlags
	err := s.with(func(h C.RTCScene) error {
		flags = SceneFlags(C.rtcGetSceneFlags(h))
		return nil
	})
	return flags, err
}

// Build the acceleration structure of the scene.
func (s *Scene) Commit() error {
	return s.commit("commit scene", func(h C.RTCScene) {
		C.rtcCommitScene(h)
	})
}

// Join a commit running on another thread. Requires a device where
// PropertyJoinCommitSupported is set.
func (s *Scene) JoinCommit() error {
	return s.commit("join commit", func(h C.RTCScene) {
		C.rtcJoinCommitScene(h)
	})
}

func (s *Scene) commit(op string, fn func(C.RTCScene)) error {
	err := s.with(func(h C.RTCScene) error {
		if err := deviceCall(s.device, func() { fn(h) }); err != nil {
			return fmt.Errorf("rtc: %s: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.state.mu.Lock()
	s.state.committed = true
	s.state.mu.Unlock()
	return nil
}

// Run a query on a committed scene.
func (s *Scene) query(fn func(C.RTCScene)) error {
	return s.with(func(h C.RTCScene) error {
		s.state.mu.Lock()
		committed := s.state.committed
		s.state.mu.Unlock()

		if !committed {
			return ErrNotCommitted
		}
		fn(h)
		return nil
	})
}

// Get the bounds of a committed scene.
func (s *Scene) Bounds() (types.Bounds, error) {
	var b types.Bounds
	err := s.query(func(h C.RTCScene) {
		C.rtcgo_scene_bounds(h, unsafe.Pointer(&b))
	})
	return b, err
}

// Find the closest hit along a ray. On a hit rh.Ray.TFar is set to the hit
// distance and rh.Hit is filled in; otherwise rh.Hit.GeomID is
// types.InvalidGeometryID.
func (s *Scene) Intersect1(rh *types.RayHit) error {
	return s.query(func(h C.RTCScene) {
		C.rtcgo_intersect1(h, unsafe.Pointer(rh), C.size_t(unsafe.Sizeof(rh.Hit)))
	})
}

// Test a ray for any hit. An occluded ray has its TFar set to -inf.
func (s *Scene) Occluded1(ray *types.Ray) error {
	return s.query(func(h C.RTCScene) {
		C.rtcgo_occluded1(h, unsafe.Pointer(ray))
	})
}
