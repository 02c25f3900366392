package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pi-timelapse/pkg/autoloop"
	"pi-timelapse/pkg/camera"
	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/drive"
	"pi-timelapse/pkg/finalize"
	"pi-timelapse/pkg/schedule"
	"pi-timelapse/pkg/server"
	"pi-timelapse/pkg/storage"
	"pi-timelapse/pkg/utils"
	"pi-timelapse/pkg/video"
	"pi-timelapse/pkg/webdav"
)

const (
	configFile = "config.txt"
	envFile    = ".env"
)

// envFlags are flags that fall back to the environment, or to the .env file
// next to the executable, when not given on the command line.
var envFlags = map[string]string{
	"config": "PI_TIMELAPSE_CONFIG",
	"dir":    "PI_TIMELAPSE_DIR",
}

var (
	configPath  = flag.String("config", path.Join(exeDir(), configFile), "config file")
	storageDir  = flag.String("dir", exeDir(), "directory sessions and logs are written to")
	interactive = flag.Bool("interactive", false, "prompt for duration, interval, resolution and upload")
	auth        = flag.Bool("auth", false, "authorize google drive access and exit")
	finalizeID  = flag.String("finalize", "", "encode and clean up an existing session, e.g. after an encoder failure")
	verbose     = flag.Bool("v", false, "debug logging")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

func main() {
	flag.Parse()
	if err := godotenv.Load(path.Join(exeDir(), envFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("load %s err: %s", envFile, err)
	}
	applyEnv()

	os.Exit(run())
}

func run() int {
	defer logger.Sync()

	load := config.Load
	if *interactive {
		load = config.LoadForPrompt
	}
	cfg, fallbacks, err := load(*configPath)
	if err != nil {
		logger.Error(err)
		return 1
	}
	for _, e := range multierr.Errors(fallbacks) {
		logger.Warn(e)
	}
	level := cfg.Service.LogLevel
	if *verbose {
		level = "debug"
	}
	if err = utils.SetLevel(level); err != nil {
		logger.Warnf("log level %q: %s", level, err)
	}

	secretPath := resolve(cfg.Service.ClientSecret)
	tokenPath, err := drive.TokenPath()
	if err != nil {
		logger.Error(err)
		return 1
	}
	if *auth {
		if err = drive.Authorize(context.Background(), secretPath, tokenPath, os.Stdin, os.Stdout); err != nil {
			logger.Error(err)
			return 1
		}
		return 0
	}

	if *interactive {
		if cfg.Run, err = config.Prompt(os.Stdin, os.Stdout, cfg.Run); err != nil {
			logger.Error(err)
			return 1
		}
	}
	if err = cfg.Validate(); err != nil {
		logger.Warn(err)
	}
	if cfg.Service.NTPServer != "" {
		if _, err = utils.CheckClock(cfg.Service.NTPServer); err != nil {
			logger.Warnf("ntp check with %s err: %s", cfg.Service.NTPServer, err)
		}
	}

	stg, err := storage.New(*storageDir)
	if err != nil {
		logger.Error(err)
		return 1
	}
	_, _ = stg.CheckFreeSpace(cfg.Service.MinFreeSpace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	encoder, err := newEncoder(ctx, cfg.Encoder)
	if err != nil {
		logger.Error(err)
		return 1
	}
	var uploader finalize.Uploader
	if cfg.Upload {
		uploader = &drive.Lazy{SecretPath: secretPath, TokenPath: tokenPath}
	}

	if *finalizeID != "" {
		return refinalize(ctx, stg, *finalizeID, finalize.Options{Encoder: encoder, Upload: cfg.Upload, Uploader: uploader})
	}

	dev, err := camera.Open(cfg.Camera, cfg.Resolution)
	if err != nil {
		logger.Error(err)
		return 1
	}
	launcher, err := autoloop.NewProcessLauncher(childArgs(os.Args[1:]))
	if err != nil {
		logger.Error(err)
		return 1
	}

	sched := schedule.New(cfg, schedule.Options{
		Storage:      stg,
		Camera:       dev,
		Encoder:      encoder,
		Uploader:     uploader,
		Autoloop:     autoloop.NewSupervisor(stg.LogsDir(), launcher),
		WatchSignals: true,
	})
	if cfg.Service.StatusPort > 0 {
		server.Serve(ctx, cfg.Service.StatusPort, sched, stg.BaseDir())
	}
	if cfg.Service.WebdavPort > 0 {
		webdav.Serve(ctx, cfg.Service.WebdavPort, stg.BaseDir())
	}

	out, err := sched.Run(ctx)
	if out != nil {
		logger.Infof("session %s %s: %d/%d frames captured, %d failed",
			out.SessionID, outcomeName(out), out.Captured, out.MaxTicks, out.Failed)
	}
	if err != nil {
		logger.Error(err)
		return 1
	}

	return 0
}

func newEncoder(ctx context.Context, cfg config.Encoder) (video.Encoder, error) {
	if cfg.Backend == config.EncoderMJPEG {
		return video.MJPEG{}, nil
	}
	f := video.NewFFmpeg(cfg.FFmpeg)
	if err := f.Check(ctx); err != nil {
		return nil, err
	}

	return f, nil
}

// refinalize encodes a session whose images are still on disk.
func refinalize(ctx context.Context, stg *storage.Manager, id string, opts finalize.Options) int {
	s, err := stg.Open(id)
	if err != nil {
		logger.Error(err)
		return 1
	}
	frames, err := s.ListFrames()
	if err != nil {
		logger.Error(err)
		return 1
	}
	if _, err = finalize.New(s, opts).Finalize(ctx, len(frames)); err != nil {
		var encErr *video.EncodeError
		if errors.As(err, &encErr) {
			logger.Errorf("images kept in %s", s.ImagesDir())
		}
		return 1
	}

	return 0
}

func outcomeName(out *schedule.Outcome) string {
	if out.Interrupted {
		return "interrupted (" + out.Reason + ")"
	}

	return "completed"
}

// childArgs are the arguments an autoloop child starts with. It never
// prompts and never re-finalizes.
func childArgs(args []string) []string {
	var res []string
	for i := 0; i < len(args); i++ {
		name := strings.TrimLeft(args[i], "-")
		if k, _, ok := strings.Cut(name, "="); ok {
			name = k
		}
		switch {
		case name == "interactive":
		case name == "finalize":
			if !strings.Contains(args[i], "=") {
				i++
			}
		default:
			res = append(res, args[i])
		}
	}

	return res
}

func applyEnv() {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	for name, key := range envFlags {
		if v, ok := os.LookupEnv(key); ok && v != "" && !set[name] {
			_ = flag.Set(name, v)
		}
	}
}

func exeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}

	return filepath.Dir(exe)
}

// resolve makes p relative to the executable's directory.
func resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(exeDir(), p)
}
