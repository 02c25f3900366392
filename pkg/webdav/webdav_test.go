package webdav

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(path.Join(dir, "2026-10-02T05:10:25.642155"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path.Join(dir, "2026-10-02T05:10:25.642155", "timelapse.mp4"), []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	h := Handler(dir)

	testCases := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodGet, "/2026-10-02T05:10:25.642155/timelapse.mp4", http.StatusOK},
		{"PROPFIND", "/", http.StatusMultiStatus},
		{http.MethodPut, "/new.txt", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/2026-10-02T05:10:25.642155/timelapse.mp4", http.StatusMethodNotAllowed},
		{"MKCOL", "/dir", http.StatusMethodNotAllowed},
	}
	for _, tc := range testCases {
		r := httptest.NewRequest(tc.method, tc.target, strings.NewReader("x"))
		if tc.method == "PROPFIND" {
			r = httptest.NewRequest(tc.method, tc.target, nil)
			r.Header.Set("Depth", "1")
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != tc.code {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.target, w.Code, tc.code)
		}
	}

	if _, err := os.Stat(path.Join(dir, "2026-10-02T05:10:25.642155", "timelapse.mp4")); err != nil {
		t.Fatal("video was deleted")
	}
}
