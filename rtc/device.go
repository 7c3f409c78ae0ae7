package rtc

// #cgo LDFLAGS: -lembree4
// #include <stdbool.h>
// #include <stdint.h>
// #include <stdlib.h>
// #include <sys/types.h>
// #include <embree4/rtcore.h>
//
// void rtcgo_error_trampoline(void* userPtr, enum RTCError code, const char* str);
// bool rtcgo_memory_monitor_trampoline(void* userPtr, ssize_t bytes, bool post);
//
// static void rtcgo_set_error_function(RTCDevice device, uintptr_t handle, int enable) {
//   if (enable) {
//     rtcSetDeviceErrorFunction(device, rtcgo_error_trampoline, (void*)handle);
//   } else {
//     rtcSetDeviceErrorFunction(device, NULL, NULL);
//   }
// }
//
// static void rtcgo_set_memory_monitor(RTCDevice device, uintptr_t handle, int enable) {
//   if (enable) {
//     rtcSetDeviceMemoryMonitorFunction(device, rtcgo_memory_monitor_trampoline, (void*)handle);
//   } else {
//     rtcSetDeviceMemoryMonitorFunction(device, NULL, NULL);
//   }
// }
import "C"

import (
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/achilleasa/go-rtcore/log"
	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/rtc/config"
)

// DeviceProperty identifies a value that can be queried from a device.
type DeviceProperty uint32

// Queryable device properties.
const (
	PropertyVersion                      DeviceProperty = C.RTC_DEVICE_PROPERTY_VERSION
	PropertyVersionMajor                 DeviceProperty = C.RTC_DEVICE_PROPERTY_VERSION_MAJOR
	PropertyVersionMinor                 DeviceProperty = C.RTC_DEVICE_PROPERTY_VERSION_MINOR
	PropertyVersionPatch                 DeviceProperty = C.RTC_DEVICE_PROPERTY_VERSION_PATCH
	PropertyNativeRay4Supported          DeviceProperty = C.RTC_DEVICE_PROPERTY_NATIVE_RAY4_SUPPORTED
	PropertyNativeRay8Supported          DeviceProperty = C.RTC_DEVICE_PROPERTY_NATIVE_RAY8_SUPPORTED
	PropertyNativeRay16Supported         DeviceProperty = C.RTC_DEVICE_PROPERTY_NATIVE_RAY16_SUPPORTED
	PropertyBackfaceCullingEnabled       DeviceProperty = C.RTC_DEVICE_PROPERTY_BACKFACE_CULLING_ENABLED
	PropertyFilterFunctionSupported      DeviceProperty = C.RTC_DEVICE_PROPERTY_FILTER_FUNCTION_SUPPORTED
	PropertyIgnoreInvalidRaysEnabled     DeviceProperty = C.RTC_DEVICE_PROPERTY_IGNORE_INVALID_RAYS_ENABLED
	PropertyTriangleGeometrySupported    DeviceProperty = C.RTC_DEVICE_PROPERTY_TRIANGLE_GEOMETRY_SUPPORTED
	PropertyQuadGeometrySupported        DeviceProperty = C.RTC_DEVICE_PROPERTY_QUAD_GEOMETRY_SUPPORTED
	PropertySubdivisionGeometrySupported DeviceProperty = C.RTC_DEVICE_PROPERTY_SUBDIVISION_GEOMETRY_SUPPORTED
	PropertyCurveGeometrySupported       DeviceProperty = C.RTC_DEVICE_PROPERTY_CURVE_GEOMETRY_SUPPORTED
	PropertyUserGeometrySupported        DeviceProperty = C.RTC_DEVICE_PROPERTY_USER_GEOMETRY_SUPPORTED
	PropertyPointGeometrySupported       DeviceProperty = C.RTC_DEVICE_PROPERTY_POINT_GEOMETRY_SUPPORTED
	PropertyTaskingSystem                DeviceProperty = C.RTC_DEVICE_PROPERTY_TASKING_SYSTEM
	PropertyJoinCommitSupported          DeviceProperty = C.RTC_DEVICE_PROPERTY_JOIN_COMMIT_SUPPORTED
	PropertyParallelCommitSupported      DeviceProperty = C.RTC_DEVICE_PROPERTY_PARALLEL_COMMIT_SUPPORTED
)

// Properties lists every queryable property in display order.
var Properties = []DeviceProperty{
	PropertyVersion,
	PropertyVersionMajor,
	PropertyVersionMinor,
	PropertyVersionPatch,
	PropertyNativeRay4Supported,
	PropertyNativeRay8Supported,
	PropertyNativeRay16Supported,
	PropertyBackfaceCullingEnabled,
	PropertyFilterFunctionSupported,
	PropertyIgnoreInvalidRaysEnabled,
	PropertyTriangleGeometrySupported,
	PropertyQuadGeometrySupported,
	PropertySubdivisionGeometrySupported,
	PropertyCurveGeometrySupported,
	PropertyUserGeometrySupported,
	PropertyPointGeometrySupported,
	PropertyTaskingSystem,
	PropertyJoinCommitSupported,
	PropertyParallelCommitSupported,
}

func (p DeviceProperty) String() string {
	switch p {
	case PropertyVersion:
		return "version"
	case PropertyVersionMajor:
		return "version major"
	case PropertyVersionMinor:
		return "version minor"
	case PropertyVersionPatch:
		return "version patch"
	case PropertyNativeRay4Supported:
		return "native ray4"
	case PropertyNativeRay8Supported:
		return "native ray8"
	case PropertyNativeRay16Supported:
		return "native ray16"
	case PropertyBackfaceCullingEnabled:
		return "backface culling"
	case PropertyFilterFunctionSupported:
		return "filter functions"
	case PropertyIgnoreInvalidRaysEnabled:
		return "ignore invalid rays"
	case PropertyTriangleGeometrySupported:
		return "triangle geometry"
	case PropertyQuadGeometrySupported:
		return "quad geometry"
	case PropertySubdivisionGeometrySupported:
		return "subdivision geometry"
	case PropertyCurveGeometrySupported:
		return "curve geometry"
	case PropertyUserGeometrySupported:
		return "user geometry"
	case PropertyPointGeometrySupported:
		return "point geometry"
	case PropertyTaskingSystem:
		return "tasking system"
	case PropertyJoinCommitSupported:
		return "join commit"
	case PropertyParallelCommitSupported:
		return "parallel commit"
	}
	return "unknown property"
}

// ErrorHandler receives errors raised by the native library.
type ErrorHandler func(code Error, msg string)

// MemoryMonitor is notified before (post == false) and after (post ==
// true) the device allocates or frees bytes; negative values are frees.
// Returning false before an allocation makes it fail.
type MemoryMonitor func(bytes int64, post bool) bool

// State shared by every wrapper of the same native device. Native
// callbacks find it through a cgo handle.
type deviceState struct {
	logger log.Logger

	mu            sync.Mutex
	wrappers      int
	errorHandler  ErrorHandler
	memoryMonitor MemoryMonitor

	handle cgo.Handle
}

func (s *deviceState) onError(code Error, msg string) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()

	if handler == nil {
		s.logger.Errorf("device error: %s: %s", code, msg)
		return
	}
	handler(code, msg)
}

func (s *deviceState) onMemory(bytes int64, post bool) bool {
	s.mu.Lock()
	monitor := s.memoryMonitor
	s.mu.Unlock()

	if monitor == nil {
		return true
	}
	return monitor(bytes, post)
}

// Device wraps a native device. Every wrapper owns one native reference
// which is dropped by Release.
type Device struct {
	mu       sync.Mutex
	handle   C.RTCDevice
	state    *deviceState
	released bool
}

// Create a device. A zero configuration selects the library defaults.
func NewDevice(cfg config.Device) (*Device, error) {
	return NewDeviceFromString(cfg.String())
}

// Create a device from a raw configuration string.
func NewDeviceFromString(cfg string) (*Device, error) {
	var cfgPtr *C.char
	if cfg != "" {
		cfgPtr = C.CString(cfg)
		defer C.free(unsafe.Pointer(cfgPtr))
	}

	var handle C.RTCDevice
	err := deviceCall(nil, func() {
		handle = C.rtcNewDevice(cfgPtr)
	})
	if handle == nil {
		return nil, opError("device creation", err)
	}

	state := &deviceState{
		logger:   log.New("rtc"),
		wrappers: 1,
	}
	state.handle = cgo.NewHandle(state)
	C.rtcgo_set_error_function(handle, C.uintptr_t(state.handle), 1)

	state.logger.Debugf("created device (config: %q)", cfg)
	return &Device{handle: handle, state: state}, nil
}

// Get a new wrapper that owns an additional reference to the device.
func (d *Device) Retain() (*Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrReleased
	}
	C.rtcRetainDevice(d.handle)

	d.state.mu.Lock()
	d.state.wrappers++
	d.state.mu.Unlock()
	return &Device{handle: d.handle, state: d.state}, nil
}

// Drop the reference owned by this wrapper. Callbacks are unregistered
// once the last wrapper is released.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	d.released = true

	d.state.mu.Lock()
	d.state.wrappers--
	last := d.state.wrappers == 0
	d.state.mu.Unlock()

	if last {
		C.rtcgo_set_error_function(d.handle, 0, 0)
		C.rtcgo_set_memory_monitor(d.handle, 0, 0)
		d.state.handle.Delete()
		d.state.logger.Debug("released device")
	}
	C.rtcReleaseDevice(d.handle)
	return nil
}

// Query a device property.
func (d *Device) Property(prop DeviceProperty) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return 0, ErrReleased
	}
	var val int64
	err := deviceCall(d.handle, func() {
		val = int64(C.rtcGetDeviceProperty(d.handle, C.enum_RTCDeviceProperty(prop)))
	})
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Fetch and clear the pending error code of the calling OS thread. Wrapper
// methods already report their own codes, so this only sees codes left by
// native code the caller ran on a locked thread.
func (d *Device) Error() (Error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrorNone, ErrReleased
	}
	return Error(C.rtcGetDeviceError(d.handle)), nil
}

// Install an error handler. Passing nil restores the default handler which
// logs errors. Handlers may be invoked from native worker threads.
func (d *Device) SetErrorHandler(handler ErrorHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	d.state.mu.Lock()
	d.state.errorHandler = handler
	d.state.mu.Unlock()
	return nil
}

// Install a memory monitor or remove it when monitor is nil.
func (d *Device) SetMemoryMonitor(monitor MemoryMonitor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	d.state.mu.Lock()
	d.state.memoryMonitor = monitor
	d.state.mu.Unlock()

	enable := C.int(0)
	if monitor != nil {
		enable = 1
	}
	C.rtcgo_set_memory_monitor(d.handle, C.uintptr_t(d.state.handle), enable)
	return nil
}

// Run fn with the native handle while holding the release guard.
func (d *Device) with(fn func(C.RTCDevice) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	return fn(d.handle)
}

// Create an empty scene.
func (d *Device) NewScene() (*Scene, error) {
	var s *Scene
	err := d.with(func(dev C.RTCDevice) error {
		var handle C.RTCScene
		err := deviceCall(dev, func() {
			handle = C.rtcNewScene(dev)
		})
		if handle == nil {
			return opError("scene creation", err)
		}
		s = newScene(dev, handle)
		return nil
	})
	return s, err
}

// Create a geometry of the given type.
func (d *Device) NewGeometry(typ GeometryType) (*Geometry, error) {
	var g *Geometry
	err := d.with(func(dev C.RTCDevice) error {
		var handle C.RTCGeometry
		err := deviceCall(dev, func() {
			handle = C.rtcNewGeometry(dev, C.enum_RTCGeometryType(typ))
		})
		if handle == nil {
			return opError("geometry creation", err)
		}
		g = newGeometry(dev, handle, typ)
		return nil
	})
	return g, err
}

// Create a buffer of byteSize bytes owned by the library.
func (d *Device) NewBuffer(byteSize uintptr) (*Buffer, error) {
	var b *Buffer
	err := d.with(func(dev C.RTCDevice) error {
		var handle C.RTCBuffer
		err := deviceCall(dev, func() {
			handle = C.rtcNewBuffer(dev, C.size_t(byteSize))
		})
		if handle == nil {
			return opError("buffer creation", err)
		}
		b = newBuffer(dev, handle, byteSize, nil)
		return nil
	})
	return b, err
}

// Create a buffer backed by caller memory. The buffer holds a reference to
// shared until it is released.
func (d *Device) NewSharedBuffer(shared *memory.Shared) (*Buffer, error) {
	var b *Buffer
	err := d.with(func(dev C.RTCDevice) error {
		if err := shared.Retain(); err != nil {
			return err
		}
		var handle C.RTCBuffer
		err := deviceCall(dev, func() {
			handle = C.rtcNewSharedBuffer(dev, shared.Pointer(), C.size_t(shared.Size()))
		})
		if handle == nil {
			shared.Release()
			return opError("shared buffer creation", err)
		}
		b = newBuffer(dev, handle, shared.Size(), shared)
		return nil
	})
	return b, err
}

// Create a BVH whose arena backs the nodes of trees built through it.
func (d *Device) NewBVH() (*BVH, error) {
	var b *BVH
	err := d.with(func(dev C.RTCDevice) error {
		var handle C.RTCBVH
		err := deviceCall(dev, func() {
			handle = C.rtcNewBVH(dev)
		})
		if handle == nil {
			return opError("bvh creation", err)
		}
		b = newBVH(dev, handle)
		return nil
	})
	return b, err
}
