package adsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/notifications"
	"github.com/Harvey-AU/ad-metrics-sync/internal/observability"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ClientStore lists the clients eligible for a platform sync
type ClientStore interface {
	ListActiveClientsWithAccount(ctx context.Context, column string) ([]*db.Client, error)
}

// RunRecorder persists sync run history
type RunRecorder interface {
	CreateSyncRun(ctx context.Context, run *db.SyncRun) error
	CompleteSyncRun(ctx context.Context, run *db.SyncRun) error
}

// Notifier delivers operational alerts
type Notifier interface {
	Notify(ctx context.Context, n *notifications.Notification) error
}

// ClientError records one client's failure within a platform run
type ClientError struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Error      string `json:"error"`
}

// Summary is the outcome of one platform run
type Summary struct {
	RunID        string        `json:"run_id,omitempty"`
	Platform     Platform      `json:"platform"`
	Trigger      string        `json:"trigger"`
	Status       string        `json:"status"`
	TotalClients int           `json:"total_clients"`
	Successful   int           `json:"successful"`
	Failed       int           `json:"failed"`
	TotalRows    int64         `json:"total_rows"`
	Errors       []ClientError `json:"errors"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	DurationMS   int64         `json:"duration_ms"`
}

// BatchResult collects the summaries of a multi-platform run
type BatchResult struct {
	Timestamp time.Time  `json:"timestamp"`
	Summaries []*Summary `json:"summaries"`
}

// TotalRows sums rows across platforms
func (b *BatchResult) TotalRows() int64 {
	var n int64
	for _, s := range b.Summaries {
		n += s.TotalRows
	}
	return n
}

// HasFailures reports whether any platform failed outright or lost clients
func (b *BatchResult) HasFailures() bool {
	for _, s := range b.Summaries {
		if s.Status != db.SyncRunCompleted {
			return true
		}
	}
	return false
}

// RunnerConfig tunes the batch driver
type RunnerConfig struct {
	// ClientConcurrency bounds concurrent client syncs within one platform
	ClientConcurrency int
	Now               func() time.Time
}

// Runner is the batch driver that syncs every active client of a platform
type Runner struct {
	clients     ClientStore
	runs        RunRecorder
	notifier    Notifier
	syncers     map[Platform]Syncer
	concurrency int
	now         func() time.Time
}

// NewRunner creates a batch driver. runs and notifier may be nil.
func NewRunner(clients ClientStore, runs RunRecorder, notifier Notifier, cfg RunnerConfig, syncers ...Syncer) *Runner {
	if cfg.ClientConcurrency < 1 {
		cfg.ClientConcurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Runner{
		clients:     clients,
		runs:        runs,
		notifier:    notifier,
		syncers:     make(map[Platform]Syncer, len(syncers)),
		concurrency: cfg.ClientConcurrency,
		now:         cfg.Now,
	}
	for _, s := range syncers {
		r.syncers[s.Platform()] = s
	}
	return r
}

// Platforms lists the platforms with a registered syncer
func (r *Runner) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms() {
		if _, ok := r.syncers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SyncAll runs the given platforms concurrently. A platform's failure never
// affects another; every requested platform gets a summary.
func (r *Runner) SyncAll(ctx context.Context, platforms []Platform, trigger string) *BatchResult {
	result := &BatchResult{
		Timestamp: r.now().UTC(),
		Summaries: make([]*Summary, len(platforms)),
	}

	var g errgroup.Group
	for i, p := range platforms {
		g.Go(func() error {
			result.Summaries[i] = r.SyncPlatform(ctx, p, trigger)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Str("trigger", trigger).
		Int("platforms", len(platforms)).
		Int64("total_rows", result.TotalRows()).
		Bool("has_failures", result.HasFailures()).
		Msg("Batch sync finished")

	return result
}

// SyncPlatform syncs every active client that has an account on the platform
func (r *Runner) SyncPlatform(ctx context.Context, platform Platform, trigger string) *Summary {
	span := sentry.StartSpan(ctx, "adsync.sync_platform")
	defer span.Finish()
	span.SetTag("platform", string(platform))
	span.SetTag("trigger", trigger)
	ctx = span.Context()

	summary := &Summary{
		Platform:  platform,
		Trigger:   trigger,
		Status:    db.SyncRunRunning,
		Errors:    []ClientError{},
		StartedAt: r.now().UTC(),
	}

	logger := log.With().Str("platform", string(platform)).Str("trigger", trigger).Logger()
	logger.Info().Msg("Starting platform sync")

	run := &db.SyncRun{Platform: string(platform), Trigger: trigger, StartedAt: summary.StartedAt}
	if r.runs != nil {
		if err := r.runs.CreateSyncRun(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record sync run start")
			// No row exists to complete
			run.ID = ""
		}
		summary.RunID = run.ID
	}

	defer func() {
		r.finish(ctx, summary, run)
	}()

	syncer, ok := r.syncers[platform]
	if !ok {
		summary.Error = ErrNotConfigured.Error()
		return summary
	}

	if err := syncer.Prepare(ctx); err != nil {
		summary.Error = fmt.Sprintf("prepare: %v", err)
		sentry.CaptureException(fmt.Errorf("%s prepare: %w", platform, err))
		logger.Error().Err(err).Msg("Platform preparation failed")
		return summary
	}

	clients, err := r.clients.ListActiveClientsWithAccount(ctx, platform.AccountColumn())
	if err != nil {
		summary.Error = fmt.Sprintf("list clients: %v", err)
		sentry.CaptureException(fmt.Errorf("%s list clients: %w", platform, err))
		logger.Error().Err(err).Msg("Failed to list clients")
		return summary
	}

	summary.TotalClients = len(clients)
	if len(clients) == 0 {
		logger.Info().Msg("No active clients with an account on this platform")
		return summary
	}

	window := syncer.Window(r.now())
	logger.Info().Int("clients", len(clients)).Str("window", window.String()).Msg("Syncing clients")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, c := range clients {
		acct := accountFor(c, platform)
		g.Go(func() error {
			rows, err := r.syncClient(ctx, syncer, acct, window, trigger)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, ClientError{
					ClientID:   acct.ClientID,
					ClientName: acct.ClientName,
					Error:      err.Error(),
				})
				return nil
			}
			summary.Successful++
			summary.TotalRows += int64(rows)
			return nil
		})
	}
	_ = g.Wait()

	return summary
}

func (r *Runner) syncClient(ctx context.Context, syncer Syncer, acct Account, window DateRange, trigger string) (int, error) {
	platform := syncer.Platform()
	ctx, span := observability.StartClientSyncSpan(ctx, observability.ClientSyncSpanInfo{
		Platform:  string(platform),
		ClientID:  acct.ClientID,
		AccountID: acct.AccountID,
		Trigger:   trigger,
	})
	defer span.End()

	start := time.Now()
	stamp := r.now().UTC()

	rows, err := syncer.SyncAccount(ctx, acct, window, stamp)

	status := "success"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		log.Error().
			Err(err).
			Str("platform", string(platform)).
			Str("client_id", acct.ClientID).
			Str("client_name", acct.ClientName).
			Str("account_id", acct.AccountID).
			Msg("Client sync failed")

		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("platform", string(platform))
			scope.SetTag("client_id", acct.ClientID)
			scope.SetTag("trigger", trigger)
			sentry.CaptureException(err)
		})
	}

	observability.RecordClientSync(ctx, observability.ClientSyncMetrics{
		Platform: string(platform),
		Status:   status,
		Rows:     rows,
		Duration: time.Since(start),
	})

	return rows, err
}

func (r *Runner) finish(ctx context.Context, summary *Summary, run *db.SyncRun) {
	summary.FinishedAt = r.now().UTC()
	summary.DurationMS = summary.FinishedAt.Sub(summary.StartedAt).Milliseconds()

	switch {
	case summary.Error != "":
		summary.Status = db.SyncRunFailed
	case summary.TotalClients > 0 && summary.Successful == 0:
		summary.Status = db.SyncRunFailed
	case summary.Failed > 0:
		summary.Status = db.SyncRunPartial
	default:
		summary.Status = db.SyncRunCompleted
	}

	log.Info().
		Str("platform", string(summary.Platform)).
		Str("status", summary.Status).
		Int("total_clients", summary.TotalClients).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int64("total_rows", summary.TotalRows).
		Int64("duration_ms", summary.DurationMS).
		Msg("Platform sync finished")

	// Recording and alerting must outlive a cancelled run context
	bg := context.WithoutCancel(ctx)

	if r.runs != nil && run.ID != "" {
		run.Status = summary.Status
		run.TotalClients = summary.TotalClients
		run.Successful = summary.Successful
		run.Failed = summary.Failed
		run.TotalRows = summary.TotalRows
		run.Error = summary.Error
		finished := summary.FinishedAt
		run.FinishedAt = &finished
		if err := r.runs.CompleteSyncRun(bg, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record sync run result")
		}
	}

	if summary.Status != db.SyncRunCompleted && r.notifier != nil {
		if err := r.notifier.Notify(bg, failureNotification(summary)); err != nil {
			log.Warn().Err(err).Str("platform", string(summary.Platform)).Msg("Failed to send sync alert")
		}
	}
}

func failureNotification(s *Summary) *notifications.Notification {
	severity := notifications.SeverityWarning
	if s.Status == db.SyncRunFailed {
		severity = notifications.SeverityError
	}

	message := s.Error
	if message == "" {
		message = fmt.Sprintf("%d of %d clients failed", s.Failed, s.TotalClients)
		if len(s.Errors) > 0 {
			first := s.Errors[0]
			message += fmt.Sprintf("\n%s: %s", first.ClientName, first.Error)
		}
	}

	return &notifications.Notification{
		Title:    fmt.Sprintf("%s sync %s", s.Platform, s.Status),
		Message:  message,
		Severity: severity,
		Fields: map[string]string{
			"trigger":    s.Trigger,
			"successful": strconv.Itoa(s.Successful),
			"failed":     strconv.Itoa(s.Failed),
			"rows":       strconv.FormatInt(s.TotalRows, 10),
		},
	}
}
