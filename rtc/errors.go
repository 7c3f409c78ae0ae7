package rtc

// #include <embree4/rtcore.h>
import "C"

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	ErrReleased     = errors.New("rtc: handle has been released")
	ErrNotCommitted = errors.New("rtc: scene has not been committed")
	ErrNoSuchGeom   = errors.New("rtc: no geometry attached with this id")
)

// Error is a native error code.
type Error uint32

// Native error codes.
const (
	ErrorNone             Error = C.RTC_ERROR_NONE
	ErrorUnknown          Error = C.RTC_ERROR_UNKNOWN
	ErrorInvalidArgument  Error = C.RTC_ERROR_INVALID_ARGUMENT
	ErrorInvalidOperation Error = C.RTC_ERROR_INVALID_OPERATION
	ErrorOutOfMemory      Error = C.RTC_ERROR_OUT_OF_MEMORY
	ErrorUnsupportedCPU   Error = C.RTC_ERROR_UNSUPPORTED_CPU
	ErrorCancelled        Error = C.RTC_ERROR_CANCELLED
)

// Return a textual description of an error code.
func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "NONE"
	case ErrorUnknown:
		return "UNKNOWN"
	case ErrorInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrorInvalidOperation:
		return "INVALID_OPERATION"
	case ErrorOutOfMemory:
		return "OUT_OF_MEMORY"
	case ErrorUnsupportedCPU:
		return "UNSUPPORTED_CPU"
	case ErrorCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(e))
}

// Implements error.
func (e Error) Error() string {
	return fmt.Sprintf("rtc: %s (code %d)", e.String(), uint32(e))
}

// Fetch and clear the pending error of a device on the current OS thread.
// A nil device reports errors raised while creating a device.
func deviceError(device C.RTCDevice) error {
	if code := Error(C.rtcGetDeviceError(device)); code != ErrorNone {
		return code
	}
	return nil
}

// Run fn and return the error code it left on the device. Codes are kept
// per OS thread, so the goroutine stays on one thread for the call and the
// poll. Codes left on the thread by earlier calls that were never polled
// are dropped first; the device error handler has already seen them.
func deviceCall(device C.RTCDevice, fn func()) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	C.rtcGetDeviceError(device)
	fn()
	return deviceError(device)
}

// Wrap the error of a failed operation. Failures that left no error code
// are reported as ErrorUnknown.
func opError(op string, err error) error {
	if err == nil {
		err = ErrorUnknown
	}
	return fmt.Errorf("rtc: %s failed: %w", op, err)
}
