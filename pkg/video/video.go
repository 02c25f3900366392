package video

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Job describes one encoding of a frame sequence into a video file.
type Job struct {
	ImagesDir string
	// Pattern is the printf name of frame n, e.g. image%d.jpeg. Frames are
	// numbered 0..Frames-1 without gaps.
	Pattern   string
	Frames    int
	FrameRate int
	Output    string
}

func (j Job) FramePath(n int) string {
	return path.Join(j.ImagesDir, fmt.Sprintf(j.Pattern, n))
}

type Encoder interface {
	Encode(ctx context.Context, job Job) error
	// Ext is the container extension without the dot.
	Ext() string
}

// EncodeError keeps the encoder's diagnostic output next to the failure.
type EncodeError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("encode with %s: %s", e.Cmd, e.Err)
	}

	return fmt.Sprintf("encode with %s: %s\n\n%s", e.Cmd, e.Err, strings.TrimSpace(e.Output))
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
