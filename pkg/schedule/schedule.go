package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pi-timelapse/pkg/camera"
	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/finalize"
	"pi-timelapse/pkg/storage"
	"pi-timelapse/pkg/utils"
	"pi-timelapse/pkg/video"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

const (
	StateInit        = "init"
	StateRunning     = "running"
	StateCompleted   = "completed"
	StateInterrupted = "interrupted"
	StateFinalizing  = "finalizing"
	StateDone        = "done"

	EventStart     = "start"
	EventComplete  = "complete"
	EventInterrupt = "interrupt"
	EventFinalize  = "finalize"
	EventDone      = "done"
)

var (
	ErrTooManyFailures = errors.New("too many consecutive capture failures")
)

// Handoff starts the next session after a natural completion.
type Handoff interface {
	Handoff(sessionID string) error
}

type Options struct {
	Storage  *storage.Manager
	Camera   camera.Device
	Encoder  video.Encoder
	Uploader finalize.Uploader
	// Autoloop is only used when the run configuration enables it.
	Autoloop Handoff
	// WatchSignals interrupts the session on SIGINT and SIGTERM.
	WatchSignals bool
	Clock        Clock
	Flush        func() error
	// Progress is called with every new milestone percentage.
	Progress func(pct int)
}

type Status struct {
	State       string    `json:"state"`
	SessionID   string    `json:"sessionId"`
	StartedAt   time.Time `json:"startedAt"`
	Tick        int       `json:"tick"`
	MaxTicks    int       `json:"maxTicks"`
	Captured    int       `json:"captured"`
	Failed      int       `json:"failed"`
	Milestone   int       `json:"milestone"`
	LatestFrame string    `json:"latestFrame,omitempty"`
}

type Outcome struct {
	Status
	Interrupted bool
	Reason      string
	// StopRequested is set when a termination signal arrived at any point,
	// including after capture completed. No next session is started then.
	StopRequested bool
	Finalize      finalize.Result
	HandedOff     bool
}

// Scheduler captures one session and finalizes it exactly once, whether the
// session runs to completion or is interrupted.
type Scheduler struct {
	cfg   *config.Config
	opts  Options
	clock Clock
	fsm   *fsm.FSM

	mu        sync.Mutex
	status    Status
	reason    string
	stopSig   string
	session   *storage.Session
	finalizer *finalize.Finalizer
	cancel    context.CancelFunc

	// devMu serializes captures with closing the device
	devMu     sync.Mutex
	devClosed bool
}

func New(cfg *config.Config, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	s := &Scheduler{
		cfg:   cfg,
		opts:  opts,
		clock: opts.Clock,
	}
	s.status.MaxTicks = cfg.MaxTicks()
	s.status.Milestone = -1
	s.fsm = fsm.NewFSM(
		StateInit,
		fsm.Events{
			{Name: EventStart, Src: []string{StateInit}, Dst: StateRunning},
			{Name: EventComplete, Src: []string{StateRunning}, Dst: StateCompleted},
			{Name: EventInterrupt, Src: []string{StateInit, StateRunning}, Dst: StateInterrupted},
			{Name: EventFinalize, Src: []string{StateCompleted, StateInterrupted}, Dst: StateFinalizing},
			{Name: EventDone, Src: []string{StateFinalizing}, Dst: StateDone},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("scheduler: %s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)

	return s
}

// Run captures MaxTicks frames, one per interval, then finalizes. It returns
// once the session is finalized, however it ended.
func (s *Scheduler) Run(ctx context.Context) (*Outcome, error) {
	session, err := s.opts.Storage.Create(s.clock.Now())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.session = session
	s.status.SessionID = session.ID
	s.finalizer = finalize.New(session, finalize.Options{
		Encoder:  s.opts.Encoder,
		Upload:   s.cfg.Upload,
		Uploader: s.opts.Uploader,
		Flush:    s.opts.Flush,
	})
	s.cancel = cancel
	s.mu.Unlock()

	if err = session.DumpManifest(&storage.Manifest{Config: s.cfg.Run, State: StateRunning}); err != nil {
		logger.Warnf("write manifest err: %s", err)
	}
	if s.opts.WatchSignals {
		stop := utils.WatchSignal(s.Interrupt)
		defer stop()
	}

	if err = s.event(EventStart); err != nil {
		// interrupted before the first tick
		return s.interrupted(nil)
	}
	logger.Infof("session %s: %d frames every %s at %s into %s",
		session.ID, s.status.MaxTicks, s.cfg.Interval, s.cfg.Resolution, session.RootDir())

	loopErr := s.loop(ctx)
	if loopErr == nil && s.event(EventComplete) == nil {
		return s.completed()
	}
	if loopErr != nil {
		s.stop(loopErr.Error())
	}

	return s.interrupted(loopErr)
}

// Interrupt stops capturing and finalizes the frames taken so far. Only the
// first interrupt does anything. Once capture completed it only cancels the
// autoloop handoff.
func (s *Scheduler) Interrupt(sig os.Signal) {
	reason := "interrupt"
	if sig != nil {
		reason = sig.String()
	}
	s.mu.Lock()
	if s.stopSig == "" {
		s.stopSig = reason
	}
	s.mu.Unlock()
	if !s.stop(reason) {
		logger.Warnf("received %s in state %s, capture already ended, no next session will be started", reason, s.fsm.Current())
		return
	}
	logger.Warnf("received %s, finalizing session", reason)
	_ = s.finalize()
}

func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.fsm.Current()

	return st
}

// stop moves to interrupted and releases the camera. It returns false when
// the session already left init and running.
func (s *Scheduler) stop(reason string) bool {
	if err := s.event(EventInterrupt); err != nil {
		return false
	}
	s.mu.Lock()
	s.reason = reason
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.closeDevice()

	return true
}

func (s *Scheduler) completed() (*Outcome, error) {
	s.closeDevice()
	err := s.finalize()
	out := s.outcome()
	if err != nil {
		return out, err
	}
	if out.StopRequested {
		if s.cfg.Autoloop {
			logger.Infof("autoloop: stop requested (%s), not starting the next session", out.Reason)
		}
		return out, nil
	}
	if s.cfg.Autoloop && s.opts.Autoloop != nil {
		if err = s.opts.Autoloop.Handoff(out.SessionID); err != nil {
			logger.Errorf("autoloop: start next session err: %s", err)
		} else {
			out.HandedOff = true
		}
	}

	return out, nil
}

func (s *Scheduler) interrupted(loopErr error) (*Outcome, error) {
	// a signal may still be finalizing; this waits for it
	err := s.finalize()
	out := s.outcome()
	out.Interrupted = true
	if errors.Is(loopErr, ErrTooManyFailures) {
		err = multierr.Append(loopErr, err)
	}

	return out, err
}

func (s *Scheduler) finalize() error {
	s.mu.Lock()
	f := s.finalizer
	captured := s.status.Captured
	s.mu.Unlock()
	if f == nil {
		return fmt.Errorf("session was never created")
	}

	if s.event(EventFinalize) == nil {
		s.record()
	}
	_, err := f.Finalize(context.Background(), captured)
	_ = s.event(EventDone)

	return err
}

func (s *Scheduler) record() {
	st := s.Snapshot()
	err := s.session.UpdateManifest(func(m *storage.Manifest) {
		m.Config = s.cfg.Run
		m.State = st.State
		m.Ticks = st.Tick
	})
	if err != nil {
		logger.Warnf("update manifest err: %s", err)
	}
}

func (s *Scheduler) outcome() *Outcome {
	s.mu.Lock()
	f := s.finalizer
	reason := s.reason
	stopSig := s.stopSig
	s.mu.Unlock()
	if reason == "" {
		reason = stopSig
	}

	out := &Outcome{Status: s.Snapshot(), Reason: reason, StopRequested: stopSig != ""}
	if f != nil {
		<-f.Done()
		out.Finalize = f.Result()
	}

	return out
}

func (s *Scheduler) loop(ctx context.Context) error {
	maxTicks := s.status.MaxTicks
	if maxTicks == 0 {
		logger.Warnf("interval %s exceeds duration %s, no frame will be captured", s.cfg.Interval, s.cfg.Duration)
		return nil
	}
	start := s.clock.Now()
	s.mu.Lock()
	s.status.StartedAt = start
	s.mu.Unlock()
	s.progress(0, maxTicks)

	failures := 0
	limit := s.cfg.Service.MaxConsecutiveFailures
	for tick := 0; tick < maxTicks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.capture(tick); err != nil {
			if errors.Is(err, camera.ErrClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			logger.Errorf("capture frame %d err: %s", tick, err)
			if limit > 0 && failures >= limit {
				return fmt.Errorf("%w: %d in a row", ErrTooManyFailures, failures)
			}
		} else {
			failures = 0
		}
		s.progress(tick+1, maxTicks)

		if err := s.sleepUntil(ctx, start.Add(time.Duration(tick+1)*s.cfg.Interval)); err != nil {
			return err
		}
	}

	return nil
}

// capture takes frame n. The counters are updated before the device is
// released so a concurrent finalize sees the frame.
func (s *Scheduler) capture(n int) error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.devClosed {
		return camera.ErrClosed
	}
	p := s.session.FramePath(n)
	err := s.opts.Camera.Capture(p)

	s.mu.Lock()
	s.status.Tick = n + 1
	if err != nil {
		s.status.Failed++
	} else {
		s.status.Captured++
		s.status.LatestFrame = p
	}
	s.mu.Unlock()

	return err
}

func (s *Scheduler) closeDevice() {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.devClosed {
		return
	}
	s.devClosed = true
	if err := s.opts.Camera.Close(); err != nil {
		logger.Warnf("close camera err: %s", err)
	}
}

// progress reports floor(tick*100/max) when it passed the last milestone.
func (s *Scheduler) progress(tick, maxTicks int) {
	pct := tick * 100 / maxTicks
	s.mu.Lock()
	if pct <= s.status.Milestone {
		s.mu.Unlock()
		return
	}
	s.status.Milestone = pct
	s.mu.Unlock()

	logger.Infof("%d%% complete (%d/%d)", pct, tick, maxTicks)
	if s.opts.Progress != nil {
		s.opts.Progress(pct)
	}
}

func (s *Scheduler) sleepUntil(ctx context.Context, deadline time.Time) error {
	d := deadline.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) event(name string) error {
	return s.fsm.Event(context.Background(), name)
}
