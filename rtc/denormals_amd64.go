package rtc

// #include <xmmintrin.h>
// #include <pmmintrin.h>
//
// static void rtcgo_set_flush_to_zero(void) {
//   _MM_SET_FLUSH_ZERO_MODE(_MM_FLUSH_ZERO_ON);
//   _MM_SET_DENORMALS_ZERO_MODE(_MM_DENORMALS_ZERO_ON);
// }
//
// static unsigned int rtcgo_get_csr(void) {
//   return _mm_getcsr();
// }
//
// static void rtcgo_set_csr(unsigned int csr) {
//   _mm_setcsr(csr);
// }
import "C"

import (
	"runtime"
	"sync"
)

// MXCSR bits for flush-to-zero and denormals-are-zero.
const (
	csrFlushToZero      = 1 << 15
	csrDenormalsAreZero = 1 << 6
)

// Enable flush-to-zero and denormals-are-zero on the current thread. The
// library performs best with both set on every thread that traces rays.
//
// The calling goroutine is locked to its OS thread until the returned
// function is called. It restores the previous MXCSR value and unlocks
// the thread so that other goroutines never run with the modified
// register. It must be called from the same goroutine; extra calls are
// ignored.
func SetFlushToZero() (restore func()) {
	runtime.LockOSThread()
	saved := C.rtcgo_get_csr()
	C.rtcgo_set_flush_to_zero()

	var once sync.Once
	return func() {
		once.Do(func() {
			C.rtcgo_set_csr(saved)
			runtime.UnlockOSThread()
		})
	}
}

// Check whether flush-to-zero and denormals-are-zero are set on the
// current thread.
func FlushToZeroEnabled() bool {
	const mask = csrFlushToZero | csrDenormalsAreZero
	return uint32(C.rtcgo_get_csr())&mask == mask
}
