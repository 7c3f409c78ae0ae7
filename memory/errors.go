package memory

import "errors"

var (
	ErrOutOfMemory  = errors.New("memory: allocation failed")
	ErrBadAlignment = errors.New("memory: alignment must be a power of two multiple of the pointer size")
	ErrClosed       = errors.New("memory: shared buffer is closed")
	ErrInUse        = errors.New("memory: shared buffer is attached")
)
