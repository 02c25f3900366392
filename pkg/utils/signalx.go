package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// TerminationSignals are the signals that stop a capture session early.
var TerminationSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

// WatchSignal calls fn for every termination signal delivered until the
// returned stop function is called.
func WatchSignal(fn func(os.Signal)) (stop func()) {
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, TerminationSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-signalCh:
				fn(sig)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(signalCh)
		close(done)
	}
}

// ListenAndServe serves h on port until ctx is done.
func ListenAndServe(ctx context.Context, h http.Handler, port int, name string) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	go func() {
		logger.Infof("%s listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("%s server err: %s", name, err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown %s server err: %s", name, err)
		}
	}()
}
