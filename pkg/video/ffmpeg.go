package video

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"time"
)

const (
	DefaultFFmpeg = "ffmpeg"
	outputFPS     = "25"
)

type FFmpeg struct {
	Bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = DefaultFFmpeg
	}

	return &FFmpeg{Bin: bin}
}

func (f *FFmpeg) Ext() string {
	return "mp4"
}

// Args is the fixed argument template: input rate, frame pattern, h264 in
// yuv420p resampled to 25 fps, output path.
func (f *FFmpeg) Args(job Job) []string {
	return []string{
		"-y",
		"-r", strconv.Itoa(job.FrameRate),
		"-i", path.Join(job.ImagesDir, job.Pattern),
		"-c:v", "libx264",
		"-vf", "fps=" + outputFPS,
		"-pix_fmt", "yuv420p",
		job.Output,
	}
}

func (f *FFmpeg) Encode(ctx context.Context, job Job) error {
	cmd := exec.CommandContext(ctx, f.Bin, f.Args(job)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodeError{Cmd: cmd.String(), Output: string(output), Err: err}
	}

	return nil
}

// Check verifies the binary can be executed.
func (f *FFmpeg) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, f.Bin, "-version").Run(); err != nil {
		return fmt.Errorf("%s is not usable, install ffmpeg or set [Encoder] backend = mjpeg: %w", f.Bin, err)
	}

	return nil
}
