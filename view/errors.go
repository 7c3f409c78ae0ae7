package view

import "errors"

var (
	ErrOutOfRange = errors.New("view: out of range")
)
