package webdav

import (
	"context"
	"net/http"

	"golang.org/x/net/webdav"

	"pi-timelapse/pkg/utils"
)

// Handler serves dir read-only. Sessions are written by the scheduler alone,
// so every method that could change the tree is refused.
func Handler(dir string) http.Handler {
	logger := utils.GetLogger()

	h := &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			h.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "OPTIONS, GET, HEAD, PROPFIND")
			http.Error(w, "read-only", http.StatusMethodNotAllowed)
		}
	})
}

// Serve exposes dir over webdav on port until ctx is done.
func Serve(ctx context.Context, port int, dir string) {
	utils.ListenAndServe(ctx, Handler(dir), port, "webdav")
}
