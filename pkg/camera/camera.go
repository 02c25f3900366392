package camera

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/utils"
)

const (
	DefaultDevice = "/dev/video0"
)

var (
	ErrEmptyFrame = errors.New("camera returned an empty frame")
	ErrClosed     = errors.New("camera closed")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

// Device writes one JPEG frame per Capture call.
type Device interface {
	Capture(path string) error
	Close() error
}

// Open picks the external still tool when one is configured and the V4L2
// device otherwise.
func Open(cfg config.Camera, res config.Resolution) (Device, error) {
	if cfg.Command != "" {
		return NewCommand(cfg.Command, res.Width, res.Height)
	}
	dev := cfg.Device
	if dev == "" {
		dev = DefaultDevice
	}

	return NewV4L2(dev, res.Width, res.Height)
}

// drain reads frames until ch is closed or timeout passes, so a streaming
// goroutine blocked on a send can exit. It returns the number of frames
// dropped and whether ch was closed.
func drain(ch <-chan []byte, timeout time.Duration) (int, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n, true
			}
			n++
		case <-timer.C:
			return n, false
		}
	}
}
