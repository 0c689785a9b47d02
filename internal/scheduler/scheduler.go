// Package scheduler fires the batch sync and the Meta token check on cron
// schedules and runs as a supervised service.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/metatoken"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job ids
const (
	JobDailySync        = "daily_sync"
	JobFrequentSync     = "frequent_sync"
	JobMetaTokenRefresh = "meta_token_refresh"
)

const defaultDrainTimeout = 30 * time.Second

// BatchRunner runs a sync over several platforms
type BatchRunner interface {
	SyncAll(ctx context.Context, platforms []adsync.Platform, trigger string) *adsync.BatchResult
}

// TokenRefresher checks and renews the Meta token
type TokenRefresher interface {
	AutoRefresh(ctx context.Context) *metatoken.RefreshResult
}

// Config controls which jobs are registered
type Config struct {
	DailySpec string
	Location  *time.Location
	// Platforms run by the daily and frequent jobs
	Platforms []adsync.Platform
	// FrequentEvery enables the frequent job when positive
	FrequentEvery time.Duration
	// TokenSpec schedules the Meta token check when a refresher is given
	TokenSpec string
	// DrainTimeout bounds how long Stop waits for running jobs before
	// cancelling them
	DrainTimeout time.Duration
}

type job struct {
	id      string
	name    string
	trigger string
	entry   cron.EntryID
}

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	cron   *cron.Cron
	runner BatchRunner
	tokens TokenRefresher
	cfg    Config
	logger zerolog.Logger
	jobs   []job

	mu         sync.Mutex
	running    bool
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// New registers the jobs described by cfg. tokens may be nil.
func New(runner BatchRunner, tokens TokenRefresher, cfg Config) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DailySpec == "" {
		cfg.DailySpec = "0 8 * * *"
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = adsync.AdPlatforms()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	logger := log.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		runner:     runner,
		tokens:     tokens,
		cfg:        cfg,
		logger:     logger,
		jobCtx:     context.Background(),
		cancelJobs: func() {},
	}

	if err := s.add(JobDailySync, "Daily sync all platforms", cfg.DailySpec, s.syncJob(adsync.TriggerScheduled)); err != nil {
		return nil, err
	}
	if cfg.FrequentEvery > 0 {
		spec := "@every " + cfg.FrequentEvery.String()
		if err := s.add(JobFrequentSync, "Frequent sync", spec, s.syncJob(adsync.TriggerFrequent)); err != nil {
			return nil, err
		}
	}
	if tokens != nil && cfg.TokenSpec != "" {
		if err := s.add(JobMetaTokenRefresh, "Meta token refresh", cfg.TokenSpec, s.tokenJob); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) add(id, name, spec string, fn func()) error {
	entry, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, id, err)
	}
	s.jobs = append(s.jobs, job{id: id, name: name, trigger: spec, entry: entry})
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobCtx
}

func (s *Scheduler) syncJob(trigger string) func() {
	return func() {
		start := time.Now()
		s.logger.Info().Str("trigger", trigger).Msg("Starting scheduled sync")

		result := s.runner.SyncAll(s.context(), s.cfg.Platforms, trigger)

		s.logger.Info().
			Str("trigger", trigger).
			Int64("total_rows", result.TotalRows()).
			Bool("has_failures", result.HasFailures()).
			Dur("duration", time.Since(start)).
			Msg("Scheduled sync completed")
	}
}

func (s *Scheduler) tokenJob() {
	result := s.tokens.AutoRefresh(s.context())
	s.logger.Info().Str("action", result.Action).Bool("success", result.Success).Msg("Meta token check completed")
}

// Start begins firing jobs. Jobs run with a context derived from ctx that
// outlives ctx until Stop has drained them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	s.jobCtx, s.cancelJobs = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.cron.Start()

	s.logger.Info().Int("jobs", len(s.jobs)).Str("timezone", s.cfg.Location.String()).Msg("Scheduler started")
	return nil
}

// Stop halts the schedule and waits for running jobs. Jobs still running
// after the drain timeout are cancelled and then awaited.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancelJobs
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping scheduler...")
	done := s.cron.Stop()

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done.Done():
	case <-timer.C:
		s.logger.Warn().Dur("drain_timeout", s.cfg.DrainTimeout).Msg("Cancelling jobs still running")
		cancel()
		<-done.Done()
	}
	cancel()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Serve implements suture.Service
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "sync-scheduler"
}

// JobStatus describes one registered job
type JobStatus struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run"`
	Trigger string     `json:"trigger"`
}

// Status is the scheduler's state and its jobs
type Status struct {
	Status string      `json:"status"`
	Jobs   []JobStatus `json:"jobs"`
}

// Status reports whether the scheduler is running and when each job fires next
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := Status{Status: "stopped", Jobs: make([]JobStatus, 0, len(s.jobs))}
	if running {
		status.Status = "running"
	}

	for _, j := range s.jobs {
		js := JobStatus{ID: j.id, Name: j.name, Trigger: j.trigger}
		if next := s.cron.Entry(j.entry).Next; running && !next.IsZero() {
			js.NextRun = &next
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// TriggerManual runs the batch sync immediately. An empty platform list runs
// the scheduled platforms.
func (s *Scheduler) TriggerManual(ctx context.Context, platforms []adsync.Platform) *adsync.BatchResult {
	if len(platforms) == 0 {
		platforms = s.cfg.Platforms
	}
	s.logger.Info().Int("platforms", len(platforms)).Msg("Manual sync triggered")
	return s.runner.SyncAll(ctx, platforms, adsync.TriggerManual)
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
