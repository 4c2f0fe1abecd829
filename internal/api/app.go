package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunServerInterruptible runs the server in the background in a Go routine and immediately returns a chan to
// the caller. The caller can then send a signal to the chan to gracefully shutdown the server.
// It's up to the caller to wait for in the main Go routine to keep the server running.
// After a stop, done fires only once in-flight requests have finished, so anything they recorded is in
// memory before the caller moves on.
func RunServerInterruptible(port int, h *Handler) (stop chan<- struct{}, done <-chan error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCh := make(chan struct{})
	doneCh := make(chan error, 1)
	shutdownCh := make(chan error, 1)

	go func() {
		log.WithField("addr", srv.Addr).Info("stockcontrol listening")
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			doneCh <- err
			return
		}
		// ListenAndServe returns as soon as Shutdown starts; Shutdown returns once handlers are done.
		doneCh <- <-shutdownCh
	}()

	go func() {
		<-stopCh
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(ctx)
		if err != nil {
			log.WithError(err).Warn("http shutdown did not finish cleanly")
		}
		shutdownCh <- err
	}()
	return stopCh, doneCh
}
