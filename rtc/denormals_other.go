//go:build !amd64

package rtc

// SetFlushToZero is a no-op on architectures without an MXCSR register.
func SetFlushToZero() (restore func()) {
	return func() {}
}

// FlushToZeroEnabled always reports false on architectures without an
// MXCSR register.
func FlushToZeroEnabled() bool {
	return false
}
