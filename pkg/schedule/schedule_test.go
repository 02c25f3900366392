package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"syscall"
	"testing"
	"time"

	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/finalize"
	"pi-timelapse/pkg/storage"
	"pi-timelapse/pkg/video"
)

type fakeDevice struct {
	mu       sync.Mutex
	captured []string
	closed   bool
	// fail reports whether capture n fails
	fail func(n int) bool
	// onCapture is notified after every capture
	onCapture chan int
}

func (d *fakeDevice) Capture(p string) error {
	d.mu.Lock()
	n := len(d.captured)
	d.captured = append(d.captured, p)
	d.mu.Unlock()
	if d.onCapture != nil {
		select {
		case d.onCapture <- n:
		default:
		}
	}
	if d.fail != nil && d.fail(n) {
		return errors.New("VIDIOC_DQBUF: no such device")
	}

	return os.WriteFile(p, []byte{0xff, 0xd8, 0xff, 0xd9}, 0644)
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.captured)
}

type fakeEncoder struct {
	mu     sync.Mutex
	jobs   []video.Job
	frames []int
}

func (e *fakeEncoder) Encode(_ context.Context, job video.Job) error {
	entries, err := os.ReadDir(job.ImagesDir)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.frames = append(e.frames, len(entries))
	e.mu.Unlock()

	return os.WriteFile(job.Output, []byte("video"), 0644)
}

func (e *fakeEncoder) Ext() string {
	return "mp4"
}

func (e *fakeEncoder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

type recordingHandoff struct {
	ids []string
}

func (r *recordingHandoff) Handoff(id string) error {
	r.ids = append(r.ids, id)
	return nil
}

// fakeClock returns from every wait at once, moving time forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now

	return ch
}

func newConfig(duration, interval time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Duration = duration
	cfg.Interval = interval
	cfg.Resolution = config.Resolution{Width: 640, Height: 480}

	return cfg
}

func newOptions(t *testing.T, dev *fakeDevice, enc *fakeEncoder) Options {
	t.Helper()
	m, err := storage.New(t.TempDir())
	checkErr(t, err)

	return Options{
		Storage: m,
		Camera:  dev,
		Encoder: enc,
		Flush:   func() error { return nil },
	}
}

func TestRunToCompletion(t *testing.T) {
	start := time.Date(2026, 10, 2, 5, 10, 25, 0, time.Local)
	clock := &fakeClock{now: start}
	dev := &fakeDevice{}
	enc := &fakeEncoder{}
	handoff := &recordingHandoff{}
	opts := newOptions(t, dev, enc)
	opts.Clock = clock
	opts.Autoloop = handoff

	s := New(newConfig(time.Minute, 10*time.Second), opts)
	out, err := s.Run(context.Background())
	checkErr(t, err)

	if dev.count() != 6 || !dev.closed {
		t.Fatalf("captures = %d closed = %v", dev.count(), dev.closed)
	}
	root := path.Join(opts.Storage.BaseDir(), out.SessionID)
	for i, p := range dev.captured {
		if want := path.Join(root, "images", fmt.Sprintf("image%d.jpeg", i)); p != want {
			t.Errorf("frame %d written to %s, want %s", i, p, want)
		}
	}
	if enc.calls() != 1 || enc.jobs[0].FrameRate != 6 || enc.frames[0] != 6 {
		t.Fatalf("encoder jobs = %+v frames = %v", enc.jobs, enc.frames)
	}
	if enc.jobs[0].Output != path.Join(root, "timelapse.mp4") {
		t.Fatalf("output = %s", enc.jobs[0].Output)
	}
	if _, err = os.Stat(path.Join(root, "images")); !os.IsNotExist(err) {
		t.Fatal("images dir must be removed")
	}
	if got := clock.Now().Sub(start); got != time.Minute {
		t.Fatalf("session took %s, want 1m", got)
	}
	if out.State != StateDone || out.Interrupted || out.Captured != 6 || out.Milestone != 100 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(handoff.ids) != 0 {
		t.Fatal("autoloop is disabled, nothing must be launched")
	}

	// a late signal is ignored
	s.Interrupt(syscall.SIGTERM)
	if enc.calls() != 1 {
		t.Fatal("finalize ran twice")
	}
}

func TestAutoloopAfterCompletion(t *testing.T) {
	handoff := &recordingHandoff{}
	opts := newOptions(t, &fakeDevice{}, &fakeEncoder{})
	opts.Clock = &fakeClock{now: time.Now()}
	opts.Autoloop = handoff
	cfg := newConfig(time.Minute, 20*time.Second)
	cfg.Autoloop = true

	out, err := New(cfg, opts).Run(context.Background())
	checkErr(t, err)
	if !out.HandedOff || len(handoff.ids) != 1 || handoff.ids[0] != out.SessionID {
		t.Fatalf("handoff = %v outcome = %+v", handoff.ids, out)
	}
}

// blockingEncoder reports when encoding starts and waits for release.
type blockingEncoder struct {
	fakeEncoder
	started chan struct{}
	release chan struct{}
}

func (e *blockingEncoder) Encode(ctx context.Context, job video.Job) error {
	close(e.started)
	<-e.release

	return e.fakeEncoder.Encode(ctx, job)
}

func TestSignalDuringFinalizeStopsAutoloop(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{}), release: make(chan struct{})}
	handoff := &recordingHandoff{}
	dev := &fakeDevice{}
	m, err := storage.New(t.TempDir())
	checkErr(t, err)
	opts := Options{
		Storage:  m,
		Camera:   dev,
		Encoder:  enc,
		Flush:    func() error { return nil },
		Clock:    &fakeClock{now: time.Now()},
		Autoloop: handoff,
	}
	cfg := newConfig(time.Minute, 20*time.Second)
	cfg.Autoloop = true
	s := New(cfg, opts)

	go func() {
		<-enc.started
		s.Interrupt(syscall.SIGTERM)
		close(enc.release)
	}()

	out, err := s.Run(context.Background())
	checkErr(t, err)
	if enc.calls() != 1 {
		t.Fatalf("encoder called %d times", enc.calls())
	}
	if len(handoff.ids) != 0 || out.HandedOff {
		t.Fatalf("next session started after SIGTERM: %v", handoff.ids)
	}
	if !out.StopRequested || out.Reason != syscall.SIGTERM.String() || out.Interrupted {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMilestones(t *testing.T) {
	testCases := []struct {
		name     string
		interval time.Duration
		want     []int
	}{
		{"three ticks", 20 * time.Second, []int{0, 33, 66, 100}},
		{"one tick", time.Minute, []int{0, 100}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got []int
			opts := newOptions(t, &fakeDevice{}, &fakeEncoder{})
			opts.Clock = &fakeClock{now: time.Now()}
			opts.Progress = func(pct int) { got = append(got, pct) }

			_, err := New(newConfig(time.Minute, tc.interval), opts).Run(context.Background())
			checkErr(t, err)
			if len(got) != len(tc.want) {
				t.Fatalf("milestones = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("milestones = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestMilestonesManyTicks(t *testing.T) {
	var got []int
	opts := newOptions(t, &fakeDevice{}, &fakeEncoder{})
	opts.Clock = &fakeClock{now: time.Now()}
	opts.Progress = func(pct int) { got = append(got, pct) }

	// 250 ticks
	_, err := New(newConfig(time.Minute, 240*time.Millisecond), opts).Run(context.Background())
	checkErr(t, err)
	if len(got) != 101 || got[0] != 0 || got[100] != 100 {
		t.Fatalf("got %d milestones: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("milestones not strictly increasing at %d: %v", i, got)
		}
	}
}

func TestZeroTicks(t *testing.T) {
	dev := &fakeDevice{}
	enc := &fakeEncoder{}
	opts := newOptions(t, dev, enc)
	opts.Clock = &fakeClock{now: time.Now()}
	opts.Autoloop = &recordingHandoff{}
	cfg := newConfig(time.Minute, 2*time.Minute)
	cfg.Autoloop = true

	out, err := New(cfg, opts).Run(context.Background())
	if !errors.Is(err, finalize.ErrNoFrames) {
		t.Fatalf("got %v, want ErrNoFrames", err)
	}
	if dev.count() != 0 || enc.calls() != 0 {
		t.Fatalf("captures = %d encoder calls = %d", dev.count(), enc.calls())
	}
	if out.HandedOff {
		t.Fatal("a failed finalize must not start the next session")
	}
}

func TestInterruptTwice(t *testing.T) {
	dev := &fakeDevice{onCapture: make(chan int, 1)}
	enc := &fakeEncoder{}
	handoff := &recordingHandoff{}
	opts := newOptions(t, dev, enc)
	opts.Autoloop = handoff
	cfg := newConfig(time.Minute, 10*time.Millisecond)
	cfg.Autoloop = true
	s := New(cfg, opts)

	go func() {
		for n := range dev.onCapture {
			if n >= 2 {
				var wg sync.WaitGroup
				for _, sig := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
					wg.Add(1)
					go func(sig os.Signal) {
						defer wg.Done()
						s.Interrupt(sig)
					}(sig)
				}
				wg.Wait()
				return
			}
		}
	}()

	out, err := s.Run(context.Background())
	checkErr(t, err)

	if enc.calls() != 1 {
		t.Fatalf("encoder called %d times", enc.calls())
	}
	if !out.Interrupted || out.State != StateDone || !dev.closed {
		t.Fatalf("outcome = %+v closed = %v", out, dev.closed)
	}
	if out.Reason != "interrupt" && out.Reason != syscall.SIGINT.String() && out.Reason != syscall.SIGTERM.String() {
		t.Fatalf("reason = %q", out.Reason)
	}
	if out.Captured < 3 || out.Captured >= out.MaxTicks {
		t.Fatalf("captured = %d", out.Captured)
	}
	if len(handoff.ids) != 0 {
		t.Fatal("autoloop must not fire after an interrupt")
	}
	session, err := opts.Storage.Open(out.SessionID)
	if err == nil {
		t.Fatalf("images of %s still on disk", session.ID)
	}
}

func TestSignal(t *testing.T) {
	dev := &fakeDevice{onCapture: make(chan int, 1)}
	enc := &fakeEncoder{}
	opts := newOptions(t, dev, enc)
	opts.WatchSignals = true
	s := New(newConfig(time.Minute, 10*time.Millisecond), opts)

	go func() {
		for n := range dev.onCapture {
			if n >= 1 {
				_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
				return
			}
		}
	}()

	out, err := s.Run(context.Background())
	checkErr(t, err)
	if !out.Interrupted || out.Reason != syscall.SIGTERM.String() || enc.calls() != 1 {
		t.Fatalf("outcome = %+v encoder calls = %d", out, enc.calls())
	}
}

func TestCancelContext(t *testing.T) {
	dev := &fakeDevice{onCapture: make(chan int, 1)}
	enc := &fakeEncoder{}
	s := New(newConfig(time.Minute, 10*time.Millisecond), newOptions(t, dev, enc))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-dev.onCapture
		cancel()
	}()

	out, err := s.Run(ctx)
	checkErr(t, err)
	if !out.Interrupted || enc.calls() != 1 {
		t.Fatalf("outcome = %+v encoder calls = %d", out, enc.calls())
	}
}

func TestTooManyFailures(t *testing.T) {
	dev := &fakeDevice{fail: func(n int) bool { return true }}
	enc := &fakeEncoder{}
	opts := newOptions(t, dev, enc)
	opts.Clock = &fakeClock{now: time.Now()}
	cfg := newConfig(time.Minute, time.Second)
	cfg.Service.MaxConsecutiveFailures = 3

	out, err := New(cfg, opts).Run(context.Background())
	if !errors.Is(err, ErrTooManyFailures) || !errors.Is(err, finalize.ErrNoFrames) {
		t.Fatalf("got %v", err)
	}
	if dev.count() != 3 || !out.Interrupted || out.Failed != 3 {
		t.Fatalf("captures = %d outcome = %+v", dev.count(), out)
	}
}

func TestFailuresBelowLimit(t *testing.T) {
	// every third capture fails, never three in a row
	dev := &fakeDevice{fail: func(n int) bool { return n%3 == 1 }}
	enc := &fakeEncoder{}
	opts := newOptions(t, dev, enc)
	opts.Clock = &fakeClock{now: time.Now()}
	cfg := newConfig(time.Minute, 10*time.Second)
	cfg.Service.MaxConsecutiveFailures = 2

	out, err := New(cfg, opts).Run(context.Background())
	checkErr(t, err)
	if out.Interrupted || out.Captured != 4 || out.Failed != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if enc.jobs[0].Frames != 4 || enc.jobs[0].FrameRate != 4 {
		t.Fatalf("job = %+v", enc.jobs[0])
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
