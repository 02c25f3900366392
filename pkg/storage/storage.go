package storage

import (
	"fmt"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"pi-timelapse/pkg/storage/consts"
	"pi-timelapse/pkg/storage/util"
	"pi-timelapse/pkg/utils"
	"pi-timelapse/pkg/utils/ps"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// Manager lays out sessions and logs under a base directory.
type Manager struct {
	baseDir string
}

func New(baseDir string) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage dir can not be empty")
	}
	if err := util.MkdirAll(baseDir); err != nil {
		return nil, err
	}

	return &Manager{baseDir: baseDir}, nil
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create makes <base>/<id>/ and <base>/<id>/images/ for a session started at
// now. Calling it twice with the same time is harmless.
func (m *Manager) Create(now time.Time) (*Session, error) {
	s := &Session{
		ID:        now.Format(consts.SessionIDLayout),
		CreatedAt: now,
	}
	s.SetRootDir(m.baseDir)
	if err := util.MkdirAll(s.rootDir, s.ImagesDir()); err != nil {
		return nil, fmt.Errorf("create session dir err: %w", err)
	}

	return s, nil
}

// Open returns an existing session, e.g. one whose encoding failed and still
// holds its images.
func (m *Manager) Open(id string) (*Session, error) {
	createdAt, err := time.ParseInLocation(consts.SessionIDLayout, id, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	s := &Session{ID: id, CreatedAt: createdAt}
	s.SetRootDir(m.baseDir)
	if _, err = s.ListFrames(); err != nil {
		return nil, fmt.Errorf("open session %s err: %w", id, err)
	}

	return s, nil
}

func (m *Manager) LogsDir() string {
	return path.Join(m.baseDir, consts.DefaultLogsDir)
}

// LogPath is the file an autoloop child started after session id writes to.
func (m *Manager) LogPath(id string) string {
	return path.Join(m.LogsDir(), id+consts.LogSuffix)
}

// CheckFreeSpace logs the free space of the base directory and warns when it
// is below min. Failing to read disk stats is not fatal.
func (m *Manager) CheckFreeSpace(min uint64) (ps.Disk, error) {
	d, err := ps.DiskStatus(m.baseDir)
	if err != nil {
		logger.Warnf("unable to read disk usage of %s: %s", m.baseDir, err)
		return d, err
	}
	if d.Free < min {
		logger.Warnf("only %s free on %s (want at least %s), frames may fail to save",
			humanize.Bytes(d.Free), m.baseDir, humanize.Bytes(min))
	} else {
		logger.Infof("%s free of %s on %s", humanize.Bytes(d.Free), humanize.Bytes(d.Total), m.baseDir)
	}

	return d, nil
}
