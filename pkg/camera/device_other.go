//go:build !linux || !cgo

package camera

import (
	"errors"
)

type V4L2 struct{}

func NewV4L2(devName string, width, height int) (*V4L2, error) {
	return nil, errors.New("v4l2 cameras are only supported on linux, set camera_command instead")
}

func (c *V4L2) Capture(path string) error {
	return ErrClosed
}

func (c *V4L2) Close() error {
	return nil
}
