package rtc

// #include <embree4/rtcore.h>
import "C"

import (
	"unsafe"

	"github.com/achilleasa/go-rtcore/types"
)

// The records in package types are handed to the library without
// conversion. A size mismatch fails compilation with a negative array
// length.
var (
	_ [unsafe.Sizeof(C.struct_RTCBounds{}) - unsafe.Sizeof(types.Bounds{})]byte
	_ [unsafe.Sizeof(types.Bounds{}) - unsafe.Sizeof(C.struct_RTCBounds{})]byte

	_ [unsafe.Sizeof(C.struct_RTCBuildPrimitive{}) - unsafe.Sizeof(types.BuildPrimitive{})]byte
	_ [unsafe.Sizeof(types.BuildPrimitive{}) - unsafe.Sizeof(C.struct_RTCBuildPrimitive{})]byte

	_ [unsafe.Sizeof(C.struct_RTCRay{}) - unsafe.Sizeof(types.Ray{})]byte
	_ [unsafe.Sizeof(types.Ray{}) - unsafe.Sizeof(C.struct_RTCRay{})]byte

	// Hits are copied field by field up to the smaller of both layouts.
	_ [unsafe.Sizeof(types.Hit{}) - unsafe.Sizeof(C.struct_RTCHit{})]byte
)
