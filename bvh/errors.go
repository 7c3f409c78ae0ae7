package bvh

import "errors"

var (
	ErrReleased        = errors.New("bvh: builder has been released")
	ErrNilPrimitives   = errors.New("bvh: primitives cannot be null")
	ErrMissingCallback = errors.New("bvh: mandatory callback not set")
	ErrHeaderLayout    = errors.New("bvh: header type is larger than the node or leaf type")
	ErrBuildCancelled  = errors.New("bvh: build cancelled by progress monitor")
	ErrBuildFailed     = errors.New("bvh: build failed")
)
