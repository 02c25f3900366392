package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pi-timelapse/pkg/storage"
	"pi-timelapse/pkg/storage/consts"
	"pi-timelapse/pkg/utils"
	"pi-timelapse/pkg/video"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

var (
	ErrNoFrames = errors.New("no frames were captured, nothing to encode")
)

const (
	StateFinalized    = "finalized"
	StateEncodeFailed = "encode_failed"
	StateNoFrames     = "no_frames"
)

// Uploader puts a local file into a named remote folder, creating the folder
// when it does not exist, and returns the remote id.
type Uploader interface {
	Upload(ctx context.Context, path, folder string) (string, error)
}

type Options struct {
	Encoder video.Encoder
	// Upload enables the upload step; Uploader must be set when it is true.
	Upload   bool
	Uploader Uploader
	// Flush asks the OS to write dirty pages to storage. Defaults to sync(2)
	// where available.
	Flush func() error
}

type Result struct {
	Frames    int
	FrameRate int
	Video     string
	Uploaded  bool
	FileID    string
	Err       error
}

// Finalizer encodes, uploads and cleans up one session. Only the first call
// to Finalize does the work.
type Finalizer struct {
	session *storage.Session
	opts    Options

	started atomic.Bool
	done    chan struct{}
	res     Result
}

func New(s *storage.Session, opts Options) *Finalizer {
	if opts.Flush == nil {
		opts.Flush = flush
	}

	return &Finalizer{
		session: s,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Finalize runs the finalize steps once. Every later call waits for the
// first one and returns its error with first == false.
func (f *Finalizer) Finalize(ctx context.Context, frameCount int) (first bool, err error) {
	if !f.started.CompareAndSwap(false, true) {
		logger.Debug("finalize already started, waiting for it")
		<-f.done
		return false, f.res.Err
	}
	defer close(f.done)

	start := time.Now()
	f.res = f.run(ctx, frameCount)
	f.record()
	if f.res.Err != nil {
		logger.Errorf("finalize session %s failed: %s", f.session.ID, f.res.Err)
	} else {
		logger.Infof("finalized session %s: %d frames at %d fps into %s, took %s",
			f.session.ID, f.res.Frames, f.res.FrameRate, f.res.Video, time.Since(start).Round(time.Millisecond))
	}

	return true, f.res.Err
}

func (f *Finalizer) Started() bool {
	return f.started.Load()
}

func (f *Finalizer) Done() <-chan struct{} {
	return f.done
}

// Result is only meaningful after Done is closed.
func (f *Finalizer) Result() Result {
	return f.res
}

func (f *Finalizer) run(ctx context.Context, frameCount int) (res Result) {
	if frameCount == 0 {
		res.Err = ErrNoFrames
		return
	}
	frames, err := f.compact()
	if err != nil {
		res.Err = err
		return
	}
	if frames == 0 {
		res.Err = ErrNoFrames
		return
	}
	res.Frames = frames
	res.FrameRate = FrameRate(frames)
	res.Video = f.session.VideoPath(f.opts.Encoder.Ext())

	job := video.Job{
		ImagesDir: f.session.ImagesDir(),
		Pattern:   consts.ImagePattern,
		Frames:    frames,
		FrameRate: res.FrameRate,
		Output:    res.Video,
	}
	logger.Infof("encoding %d frames at %d fps", frames, res.FrameRate)
	if err = f.opts.Encoder.Encode(ctx, job); err != nil {
		res.Err = err
		return
	}

	if err = f.opts.Flush(); err != nil {
		logger.Warnf("flush storage err: %s", err)
	}

	if f.opts.Upload && f.opts.Uploader != nil {
		id, err := f.opts.Uploader.Upload(ctx, res.Video, consts.DriveFolder)
		if err != nil {
			logger.Errorf("upload %s err: %s", res.Video, err)
		} else {
			logger.Infof("uploaded %s to folder %s, file id %s", res.Video, consts.DriveFolder, id)
			res.Uploaded = true
			res.FileID = id
		}
	}

	if err = os.RemoveAll(f.session.ImagesDir()); err != nil {
		logger.Warnf("remove %s err: %s", f.session.ImagesDir(), err)
	}

	return
}

// compact renames frames so they are numbered 0..n-1 without gaps and
// returns n. Ticks whose capture failed leave holes the encoder would stop at.
func (f *Finalizer) compact() (int, error) {
	frames, err := f.session.ListFrames()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list frames err: %w", err)
	}
	for i, n := range frames {
		if i == n {
			continue
		}
		if err = os.Rename(f.session.FramePath(n), f.session.FramePath(i)); err != nil {
			return 0, fmt.Errorf("compact frames err: %w", err)
		}
	}
	if len(frames) > 0 && frames[len(frames)-1] != len(frames)-1 {
		logger.Infof("renumbered %d frames to close capture gaps", len(frames))
	}

	return len(frames), nil
}

func (f *Finalizer) record() {
	err := f.session.UpdateManifest(func(m *storage.Manifest) {
		m.Frames = f.res.Frames
		m.Uploaded = f.res.Uploaded
		switch {
		case f.res.Err == nil:
			m.State = StateFinalized
			m.Video = f.res.Video
		case errors.Is(f.res.Err, ErrNoFrames):
			m.State = StateNoFrames
		default:
			m.State = StateEncodeFailed
		}
	})
	if err != nil {
		logger.Warnf("update manifest err: %s", err)
	}
}

// FrameRate caps the input rate at consts.MaxFrameRate so short sessions
// still make a video.
func FrameRate(frames int) int {
	return min(consts.MaxFrameRate, frames)
}
