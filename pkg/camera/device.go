//go:build linux && cgo

package camera

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"pi-timelapse/pkg/storage/consts"
)

const (
	// frames dropped after stream start while exposure settles
	warmupFrames = 2
	stopTimeout  = 2 * time.Second
)

// V4L2 opens the device for every capture, so the sensor is idle between
// ticks and nothing is held open when the session ends.
type V4L2 struct {
	devName string
	width   int
	height  int

	lock   sync.Mutex
	closed bool
}

func NewV4L2(devName string, width, height int) (*V4L2, error) {
	if _, err := os.Stat(devName); err != nil {
		return nil, fmt.Errorf("camera %s: %w", devName, err)
	}

	return &V4L2{devName: devName, width: width, height: height}, nil
}

func (c *V4L2) Capture(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}

	cam, err := device.Open(
		c.devName,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(c.width),
			Height:      uint32(c.height),
		}),
	)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		// the stream goroutine stops the device and closes the output once
		// it sees the cancel, but only after any pending frame is taken
		cancel()
		if n, closed := drain(cam.GetOutput(), stopTimeout); !closed {
			logger.Warnf("stream of %s did not stop within %s", c.devName, stopTimeout)
		} else if n > 0 {
			logger.Debugf("dropped %d frames after capture", n)
		}
		if err := cam.Close(); err != nil {
			logger.Warnf("close %s err: %s", c.devName, err)
		}
	}()
	if err = cam.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var frame []byte
	for i := 0; i <= warmupFrames; i++ {
		f, ok := <-cam.GetOutput()
		if !ok {
			return fmt.Errorf("capture stream closed")
		}
		frame = f
	}
	if len(frame) == 0 {
		return ErrEmptyFrame
	}

	return os.WriteFile(path, frame, consts.DefaultFilePerm)
}

func (c *V4L2) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true

	return nil
}
