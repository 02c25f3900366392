package server

import (
	"bytes"
	stdimage "image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"pi-timelapse/pkg/schedule"
)

type staticSource struct {
	status schedule.Status
}

func (s staticSource) Snapshot() schedule.Status {
	return s.status
}

func TestStatus(t *testing.T) {
	src := staticSource{status: schedule.Status{State: schedule.StateRunning, SessionID: "2026-10-02T05:10:25.642155", Tick: 3, MaxTicks: 6, Captured: 3, Milestone: 50}}
	h := New(src, t.TempDir()).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body)
	}

	var body struct {
		Status string `json:"status"`
		Data   Status `json:"data"`
	}
	checkErr(t, json.Unmarshal(w.Body.Bytes(), &body))
	if body.Status != "success" {
		t.Fatalf("status = %q", body.Status)
	}
	got := body.Data.Session
	if got.State != schedule.StateRunning || got.SessionID != src.status.SessionID || got.Tick != 3 || got.Milestone != 50 {
		t.Fatalf("session = %+v", body.Data.Session)
	}
}

func TestLatestFrame(t *testing.T) {
	dir := t.TempDir()
	frame := path.Join(dir, "image2.jpeg")
	checkErr(t, os.WriteFile(frame, []byte{0xff, 0xd8, 0xff, 0xd9}, 0644))

	testCases := []struct {
		name   string
		latest string
		code   int
	}{
		{"captured", frame, http.StatusOK},
		{"none yet", "", http.StatusNotFound},
		{"removed", path.Join(dir, "image9.jpeg"), http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(staticSource{status: schedule.Status{LatestFrame: tc.latest}}, dir).Handler()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/frames/latest", nil))
			if w.Code != tc.code {
				t.Fatalf("code = %d, want %d", w.Code, tc.code)
			}
			if tc.code == http.StatusOK && w.Body.Len() != 4 {
				t.Fatalf("body = %v", w.Body.Bytes())
			}
		})
	}
}

func TestLatestFrameThumbnail(t *testing.T) {
	dir := t.TempDir()
	frame := path.Join(dir, "image0.jpeg")
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	checkErr(t, jpeg.Encode(&buf, img, nil))
	checkErr(t, os.WriteFile(frame, buf.Bytes(), 0644))
	h := New(staticSource{status: schedule.Status{LatestFrame: frame}}, dir).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/frames/latest?width=16", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body)
	}
	cfg, err := jpeg.DecodeConfig(w.Body)
	checkErr(t, err)
	if cfg.Width != 16 || cfg.Height != 12 {
		t.Fatalf("thumbnail is %dx%d", cfg.Width, cfg.Height)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/frames/latest?width=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestNoRoute(t *testing.T) {
	h := New(staticSource{}, t.TempDir()).Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/project", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "page not found") {
		t.Fatalf("code = %d body = %s", w.Code, w.Body)
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
