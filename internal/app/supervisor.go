package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
)

// HTTPServer is the lifecycle surface of *http.Server
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a supervisor
type HTTPService struct {
	name            string
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. A non-positive timeout defaults to 30s.
func NewHTTPService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &HTTPService{name: name, server: server, shutdownTimeout: shutdownTimeout}
}

// Serve blocks until ctx ends or the server fails. Shutdown is graceful.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			sentry.CaptureException(err)
			return fmt.Errorf("%s failed: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return h.name
}

// SupervisorConfig tunes restart behaviour
type SupervisorConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// NewSupervisor returns the root supervisor with events logged through zerolog
func NewSupervisor(name string, cfg SupervisorConfig) *suture.Supervisor {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 45 * time.Second
	}

	return suture.New(name, suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

func logEvent(e suture.Event) {
	logger := log.With().Str("component", "supervisor").Fields(e.Map()).Logger()

	switch e.Type() {
	case suture.EventTypeServicePanic:
		logger.Error().Msg(e.String())
	case suture.EventTypeServiceTerminate, suture.EventTypeStopTimeout:
		logger.Warn().Msg(e.String())
	case suture.EventTypeBackoff:
		logger.Warn().Msg("Supervisor entering backoff")
	case suture.EventTypeResume:
		logger.Info().Msg("Supervisor resuming")
	default:
		logger.Debug().Msg(e.String())
	}
}
