package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/storage/consts"
	"pi-timelapse/pkg/storage/util"
)

type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	rootDir string
	// manifestMu serializes writers of session.json
	manifestMu sync.Mutex
}

type Manifest struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	Config    config.Run `json:"config"`

	State    string `json:"state"`
	Ticks    int    `json:"ticks"`
	Frames   int    `json:"frames"`
	Video    string `json:"video,omitempty"`
	Uploaded bool   `json:"uploaded"`

	UpdateAt time.Time `json:"updateAt"`
}

func (s *Session) SetRootDir(dir string) {
	s.rootDir = path.Join(dir, s.ID)
}

func (s *Session) RootDir() string {
	return s.rootDir
}

func (s *Session) ImagesDir() string {
	return path.Join(s.rootDir, consts.DefaultImagesDir)
}

func FrameName(n int) string {
	return fmt.Sprintf(consts.ImagePattern, n)
}

// FramePath is images/image{n}.jpeg inside the session.
func (s *Session) FramePath(n int) string {
	return path.Join(s.ImagesDir(), FrameName(n))
}

// VideoPath is <root>/timelapse.<ext>.
func (s *Session) VideoPath(ext string) string {
	return path.Join(s.rootDir, consts.VideoName+"."+strings.TrimPrefix(ext, "."))
}

// ListFrames returns the ordinals of the frames on disk in ascending order.
func (s *Session) ListFrames() ([]int, error) {
	files, err := os.ReadDir(s.ImagesDir())
	if err != nil {
		return nil, err
	}
	var res []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		n, ok := frameOrdinal(file.Name())
		if !ok {
			continue
		}
		res = append(res, n)
	}
	sort.Ints(res)

	return res, nil
}

func frameOrdinal(name string) (int, bool) {
	if !strings.HasPrefix(name, consts.ImagePrefix) || !strings.HasSuffix(name, consts.DefaultImageExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, consts.ImagePrefix), consts.DefaultImageExt))
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

func (s *Session) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("read manifest err: %w", err)
	}
	m := &Manifest{}
	if err = json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest err: %w", err)
	}

	return m, nil
}

func (s *Session) DumpManifest(m *Manifest) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	return s.dumpManifest(m)
}

func (s *Session) dumpManifest(m *Manifest) error {
	m.ID = s.ID
	m.CreatedAt = s.CreatedAt
	m.UpdateAt = time.Now()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	return util.WriteFile(s.manifestPath(), data, consts.DefaultFilePerm)
}

// UpdateManifest loads the manifest, applies fn and writes it back. A missing
// manifest starts from an empty one. Concurrent updates do not lose writes.
func (s *Session) UpdateManifest(fn func(m *Manifest)) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.LoadManifest()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		m = &Manifest{}
	}
	fn(m)

	return s.dumpManifest(m)
}

func (s *Session) manifestPath() string {
	return path.Join(s.rootDir, consts.DefaultManifestFile)
}
