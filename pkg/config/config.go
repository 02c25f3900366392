package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"gopkg.in/ini.v1"
)

const (
	SectionCapture = "Capture Options"
	SectionCamera  = "Camera Options"
	SectionOthers  = "Others"
	SectionEncoder = "Encoder"
	SectionService = "Service"

	EncoderFFmpeg = "ffmpeg"
	EncoderMJPEG  = "mjpeg"
)

var (
	ErrResolution = errors.New("resolution is required, e.g. resolution = 1920x1080")
)

// Run is the part of the configuration that shapes one capture session.
type Run struct {
	Duration   time.Duration `json:"duration"`
	Interval   time.Duration `json:"interval"`
	Resolution Resolution    `json:"resolution"`
	Upload     bool          `json:"upload"`
	Autoloop   bool          `json:"autoloop"`
}

// MaxTicks is floor(duration / interval), the number of frames a session captures.
func (r Run) MaxTicks() int {
	if r.Interval <= 0 || r.Duration <= 0 {
		return 0
	}

	return int(r.Duration / r.Interval)
}

type Camera struct {
	Device string `json:"device"`
	// Command is an external still capture tool line, see camera.NewCommand.
	Command string `json:"command,omitempty"`
}

type Encoder struct {
	Backend string `json:"backend"`
	FFmpeg  string `json:"ffmpeg"`
}

type Service struct {
	StatusPort             int    `json:"statusPort"`
	WebdavPort             int    `json:"webdavPort"`
	NTPServer              string `json:"ntpServer,omitempty"`
	MinFreeSpace           uint64 `json:"minFreeSpace"`
	MaxConsecutiveFailures int    `json:"maxConsecutiveFailures"`
	LogLevel               string `json:"logLevel"`
	ClientSecret           string `json:"clientSecret"`
}

type Config struct {
	Run     `json:"run"`
	Camera  Camera  `json:"camera"`
	Encoder Encoder `json:"encoder"`
	Service Service `json:"service"`
}

// option is one row of the defaults table. parse receives the cleaned value
// and stores it into cfg.
type option struct {
	section string
	key     string
	def     string
	raw     bool
	parse   func(cfg *Config, v string) error
}

var options = []option{
	{SectionCapture, "duration", "1440", false, func(c *Config, v string) error {
		d, err := parseMinutes(v)
		c.Duration = d
		return err
	}},
	{SectionCapture, "interval_per_capture", "5", false, func(c *Config, v string) error {
		d, err := parseSeconds(v)
		c.Interval = d
		return err
	}},
	{SectionCamera, "device", "/dev/video0", true, func(c *Config, v string) error {
		c.Camera.Device = v
		return nil
	}},
	{SectionCamera, "camera_command", "", true, func(c *Config, v string) error {
		c.Camera.Command = v
		return nil
	}},
	{SectionOthers, "save_to_googledrive", "false", false, func(c *Config, v string) (err error) {
		c.Upload, err = strconv.ParseBool(strings.ToLower(v))
		return
	}},
	{SectionOthers, "autoloop", "false", false, func(c *Config, v string) (err error) {
		c.Autoloop, err = strconv.ParseBool(strings.ToLower(v))
		return
	}},
	{SectionEncoder, "backend", EncoderFFmpeg, false, func(c *Config, v string) error {
		v = strings.ToLower(v)
		if v != EncoderFFmpeg && v != EncoderMJPEG {
			return fmt.Errorf("unknown encoder %q", v)
		}
		c.Encoder.Backend = v
		return nil
	}},
	{SectionEncoder, "ffmpeg", "ffmpeg", true, func(c *Config, v string) error {
		c.Encoder.FFmpeg = v
		return nil
	}},
	{SectionService, "status_port", "0", false, func(c *Config, v string) (err error) {
		c.Service.StatusPort, err = parsePort(v)
		return
	}},
	{SectionService, "webdav_port", "0", false, func(c *Config, v string) (err error) {
		c.Service.WebdavPort, err = parsePort(v)
		return
	}},
	{SectionService, "ntp_server", "", true, func(c *Config, v string) error {
		c.Service.NTPServer = v
		return nil
	}},
	{SectionService, "min_free_space", "512MB", false, func(c *Config, v string) (err error) {
		c.Service.MinFreeSpace, err = humanize.ParseBytes(v)
		return
	}},
	{SectionService, "max_consecutive_failures", "10", false, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err == nil && n < 0 {
			err = fmt.Errorf("must not be negative")
		}
		c.Service.MaxConsecutiveFailures = n
		return err
	}},
	{SectionService, "log_level", "info", false, func(c *Config, v string) error {
		c.Service.LogLevel = strings.ToLower(v)
		return nil
	}},
	{SectionService, "client_secret", "client_secret.json", true, func(c *Config, v string) error {
		c.Service.ClientSecret = v
		return nil
	}},
}

// Default returns a configuration filled from the defaults table. Resolution
// has no default and is left zero.
func Default() *Config {
	cfg := &Config{}
	for _, o := range options {
		if err := o.parse(cfg, o.def); err != nil {
			panic(fmt.Sprintf("bad default for %s.%s: %s", o.section, o.key, err))
		}
	}

	return cfg
}

// Load reads an INI file. Unparsable options fall back to their default and
// are reported through fallbacks; a missing or invalid resolution is fatal
// and returned as ErrResolution.
func Load(path string) (cfg *Config, fallbacks error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config err: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (cfg *Config, fallbacks error, err error) {
	// inline comments are stripped by Clean
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse config err: %w", err)
	}

	cfg = Default()
	for _, o := range options {
		key, err := f.Section(o.section).GetKey(o.key)
		if err != nil {
			continue
		}
		v := cleanOption(key.String(), o.raw)
		if v == "" {
			continue
		}
		if err = o.parse(cfg, v); err != nil {
			fallbacks = multierr.Append(fallbacks,
				fmt.Errorf("[%s] %s = %q: %w, using default %q", o.section, o.key, v, err, o.def))
			// restore the default the failed parse may have overwritten
			_ = o.parse(cfg, o.def)
		}
	}

	// cfg is returned with the error so a prompt can fill the resolution in
	key, err := f.Section(SectionCamera).GetKey("resolution")
	if err != nil {
		return cfg, fallbacks, ErrResolution
	}
	cfg.Resolution, err = ParseResolution(Clean(key.String()))
	if err != nil {
		return cfg, fallbacks, err
	}

	return cfg, fallbacks, nil
}

// LoadForPrompt is Load for a run whose options are confirmed through
// Prompt: a missing file starts from Default and a missing resolution is
// left zero instead of failing.
func LoadForPrompt(path string) (cfg *Config, fallbacks error, err error) {
	cfg, fallbacks, err = Load(path)
	switch {
	case err == nil:
		return cfg, fallbacks, nil
	case errors.Is(err, fs.ErrNotExist):
		return Default(), nil, nil
	case errors.Is(err, ErrResolution) && cfg != nil:
		cfg.Resolution = Resolution{}
		return cfg, fallbacks, nil
	}

	return nil, fallbacks, err
}

// Validate reports settings that are legal but will not produce a video.
func (c *Config) Validate() error {
	var err error
	if c.Resolution.Width <= 0 || c.Resolution.Height <= 0 {
		err = multierr.Append(err, ErrResolution)
	}
	if c.MaxTicks() == 0 {
		err = multierr.Append(err, fmt.Errorf("interval %s exceeds duration %s, no frame will be captured", c.Interval, c.Duration))
	}

	return err
}

// Clean strips an inline comment and every space from an option value.
func Clean(v string) string {
	return strings.Join(strings.Fields(stripComment(v)), "")
}

func cleanOption(v string, raw bool) string {
	if raw {
		return strings.TrimSpace(stripComment(v))
	}

	return Clean(v)
}

func stripComment(v string) string {
	if i := strings.IndexAny(v, "#;"); i >= 0 {
		return v[:i]
	}

	return v
}

func parseMinutes(v string) (time.Duration, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("must be positive")
	}

	return time.Duration(f * float64(time.Minute)), nil
}

func parseSeconds(v string) (time.Duration, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("must be positive")
	}

	return time.Duration(f * float64(time.Second)), nil
}

func parsePort(v string) (int, error) {
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %d", p)
	}

	return p, nil
}
