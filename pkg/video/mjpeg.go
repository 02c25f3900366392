package video

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/icza/mjpeg"
	"go.uber.org/zap"

	"pi-timelapse/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// MJPEG writes the frames as-is into an AVI container, for boards without
// ffmpeg. Every frame must share the size of the first one.
type MJPEG struct{}

func (MJPEG) Ext() string {
	return "avi"
}

func (m MJPEG) Encode(ctx context.Context, job Job) error {
	if err := m.encode(ctx, job); err != nil {
		return &EncodeError{Cmd: "mjpeg", Err: err}
	}

	return nil
}

func (MJPEG) encode(ctx context.Context, job Job) error {
	if job.Frames == 0 {
		return fmt.Errorf("no frames")
	}
	first, err := os.ReadFile(job.FramePath(0))
	if err != nil {
		return err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first))
	if err != nil {
		return fmt.Errorf("decode %s: %w", job.FramePath(0), err)
	}

	b, err := NewBuilder(job.Output, cfg.Width, cfg.Height, job.FrameRate)
	if err != nil {
		return err
	}
	if err = b.Add(first); err != nil {
		_ = b.Close()
		return err
	}
	for i := 1; i < job.Frames; i++ {
		if err = ctx.Err(); err != nil {
			_ = b.Close()
			return err
		}
		frame, err := os.ReadFile(job.FramePath(i))
		if err != nil {
			_ = b.Close()
			return err
		}
		if err = b.Add(frame); err != nil {
			_ = b.Close()
			return err
		}
	}
	if err = b.Close(); err != nil {
		return err
	}
	logger.Infof("wrote %d frames to %s", b.GetCnt(), job.Output)

	return nil
}

type Builder struct {
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}
