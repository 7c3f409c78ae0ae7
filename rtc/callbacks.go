package rtc

// #include <stddef.h>
// #include <stdint.h>
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/types"
)

// Entry points for the C trampolines in callbacks.c. The user pointer of
// every native callback carries a cgo handle to the receiving Go value.

func dispatcherFor(userPtr unsafe.Pointer) bvh.Dispatcher {
	return cgo.Handle(uintptr(userPtr)).Value().(bvh.Dispatcher)
}

//export rtcgoCreateNode
func rtcgoCreateNode(alloc unsafe.Pointer, childCount C.uint, userPtr unsafe.Pointer) unsafe.Pointer {
	return dispatcherFor(userPtr).CreateNode(nativeAllocator{alloc}, int(childCount))
}

//export rtcgoSetNodeChildren
func rtcgoSetNodeChildren(node unsafe.Pointer, children *unsafe.Pointer, count C.uint, userPtr unsafe.Pointer) {
	dispatcherFor(userPtr).SetNodeChildren(node, unsafe.Slice(children, int(count)))
}

//export rtcgoSetNodeBounds
func rtcgoSetNodeBounds(node unsafe.Pointer, bounds *unsafe.Pointer, count C.uint, userPtr unsafe.Pointer) {
	ptrs := unsafe.Slice((**types.Bounds)(unsafe.Pointer(bounds)), int(count))
	dispatcherFor(userPtr).SetNodeBounds(node, ptrs)
}

//export rtcgoCreateLeaf
func rtcgoCreateLeaf(alloc unsafe.Pointer, prims unsafe.Pointer, count C.size_t, userPtr unsafe.Pointer) unsafe.Pointer {
	return dispatcherFor(userPtr).CreateLeaf(
		nativeAllocator{alloc},
		unsafe.Slice((*types.BuildPrimitive)(prims), int(count)),
	)
}

//export rtcgoSplitPrimitive
func rtcgoSplitPrimitive(prim unsafe.Pointer, dim C.uint, pos C.float, left, right unsafe.Pointer, userPtr unsafe.Pointer) {
	dispatcherFor(userPtr).SplitPrimitive(
		(*types.BuildPrimitive)(prim),
		uint32(dim),
		float32(pos),
		(*types.Bounds)(left),
		(*types.Bounds)(right),
	)
}

//export rtcgoProgress
func rtcgoProgress(userPtr unsafe.Pointer, n C.double) C.int {
	if dispatcherFor(userPtr).Progress(float64(n)) {
		return 1
	}
	return 0
}

//export rtcgoDeviceError
func rtcgoDeviceError(userPtr unsafe.Pointer, code C.int, msg *C.char) {
	state := cgo.Handle(uintptr(userPtr)).Value().(*deviceState)
	var text string
	if msg != nil {
		text = C.GoString(msg)
	}
	state.onError(Error(code), text)
}

//export rtcgoMemoryMonitor
func rtcgoMemoryMonitor(userPtr unsafe.Pointer, bytes C.int64_t, post C.int) C.int {
	state := cgo.Handle(uintptr(userPtr)).Value().(*deviceState)
	if state.onMemory(int64(bytes), post != 0) {
		return 1
	}
	return 0
}
