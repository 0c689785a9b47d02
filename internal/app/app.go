// Package app assembles the sync services from configuration. Both the HTTP
// server and the operator CLI build their dependency graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/ga4"
	"github.com/Harvey-AU/ad-metrics-sync/internal/googleads"
	"github.com/Harvey-AU/ad-metrics-sync/internal/meta"
	"github.com/Harvey-AU/ad-metrics-sync/internal/metatoken"
	"github.com/Harvey-AU/ad-metrics-sync/internal/notifications"
	"github.com/Harvey-AU/ad-metrics-sync/internal/scheduler"
	"github.com/Harvey-AU/ad-metrics-sync/internal/tiktok"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/rs/zerolog/log"
)

// Store is the registry, run history and token persistence the services need
type Store interface {
	adsync.ClientStore
	adsync.RunRecorder
	metatoken.TokenStore
}

// Services is the assembled dependency graph
type Services struct {
	Config    *config.Config
	Warehouse warehouse.Warehouse
	Notifier  *notifications.Service
	Tokens    *metatoken.Manager
	GoogleAds *googleads.Client
	Runner    *adsync.Runner

	store Store
}

// Build opens the warehouse and wires one syncer per configured platform.
// Platforms without credentials are skipped with a warning.
func Build(ctx context.Context, cfg *config.Config, store Store) (*Services, error) {
	wh, err := warehouse.Open(ctx, warehouse.Options{
		Driver: cfg.Warehouse.Driver,
		BigQuery: warehouse.BigQueryConfig{
			ProjectID:       cfg.Warehouse.ProjectID,
			DatasetID:       cfg.Warehouse.DatasetID,
			CredentialsJSON: cfg.Warehouse.CredentialsJSON,
			Location:        cfg.Warehouse.Location,
		},
		SQLitePath: cfg.Warehouse.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}

	svc := &Services{
		Config:    cfg,
		Warehouse: wh,
		Notifier:  newNotifier(cfg.Slack, cfg.Email),
		store:     store,
	}

	syncers, err := svc.buildSyncers(ctx)
	if err != nil {
		wh.Close()
		return nil, err
	}

	svc.Runner = adsync.NewRunner(store, store, svc.Notifier, adsync.RunnerConfig{
		ClientConcurrency: cfg.Sync.ClientConcurrency,
	}, syncers...)

	log.Info().
		Str("warehouse", wh.Driver()).
		Interface("platforms", svc.Runner.Platforms()).
		Bool("alerts", svc.Notifier.Enabled()).
		Msg("Sync services ready")

	return svc, nil
}

func (s *Services) buildSyncers(ctx context.Context) ([]adsync.Syncer, error) {
	cfg := s.Config
	report := adsync.ReportOptions{
		WriteMode: cfg.Sync.WriteMode,
		DaysBack:  cfg.Sync.DaysBack,
	}

	var syncers []adsync.Syncer

	if cfg.GoogleAds.Enabled() {
		client, err := googleads.New(ctx, cfg.GoogleAds, googleads.Options{RequestsPerSecond: cfg.Sync.VendorRPS})
		if err != nil {
			return nil, fmt.Errorf("failed to create Google Ads client: %w", err)
		}
		s.GoogleAds = client
		syncers = append(syncers, adsync.NewReportSyncer(googleads.NewSource(client), s.Warehouse, report))
	} else {
		log.Warn().Msg("Google Ads credentials not configured, skipping google_ads")
	}

	graph := meta.New(cfg.Meta, meta.Options{RequestsPerSecond: cfg.Sync.VendorRPS})
	s.Tokens = metatoken.New(cfg.Meta, graph, s.store, s.Notifier)
	syncers = append(syncers, adsync.NewReportSyncer(meta.NewSource(graph, s.Tokens), s.Warehouse, report))

	if cfg.TikTok.Enabled() {
		client, err := tiktok.New(cfg.TikTok, tiktok.Options{RequestsPerSecond: cfg.Sync.VendorRPS})
		if err != nil {
			return nil, fmt.Errorf("failed to create TikTok client: %w", err)
		}
		syncers = append(syncers, adsync.NewReportSyncer(tiktok.NewSource(client), s.Warehouse, report))
	} else {
		log.Warn().Msg("TIKTOK_ACCESS_TOKEN not set, skipping tiktok")
	}

	ga4Syncer, err := s.ga4Syncer(ctx)
	if err != nil {
		return nil, err
	}
	if ga4Syncer != nil {
		syncers = append(syncers, ga4Syncer)
	}

	return syncers, nil
}

func (s *Services) ga4Syncer(ctx context.Context) (adsync.Syncer, error) {
	cfg := s.Config
	switch cfg.GA4.Mode {
	case config.GA4ModeDataAPI:
		client, err := ga4.NewDataClient(ctx, cfg.GA4, ga4.Options{RequestsPerSecond: cfg.Sync.VendorRPS})
		if err != nil {
			return nil, fmt.Errorf("failed to create GA4 Data API client: %w", err)
		}
		return adsync.NewReportSyncer(ga4.NewDataAPISource(client), s.Warehouse, adsync.ReportOptions{
			WriteMode: cfg.Sync.WriteMode,
			DaysBack:  cfg.Sync.GA4DaysBack,
			LagDays:   1,
		}), nil
	default:
		export, err := ga4.NewExportSync(s.Warehouse, cfg.Sync.DaysBack)
		if errors.Is(err, ga4.ErrUnsupportedWarehouse) {
			log.Warn().Err(err).Msg("GA4 export mode unavailable, skipping ga4")
			return nil, nil
		}
		return export, err
	}
}

// Close releases the warehouse
func (s *Services) Close() error {
	if s.Warehouse == nil {
		return nil
	}
	return s.Warehouse.Close()
}

// TokenRefresher returns the token manager when it can exchange tokens, else nil
func (s *Services) TokenRefresher() scheduler.TokenRefresher {
	if s.Tokens == nil || !s.Tokens.CanRefresh() {
		return nil
	}
	return s.Tokens
}

// SchedulerConfig translates the scheduler settings. Only platforms with a
// registered syncer are scheduled.
func (s *Services) SchedulerConfig() (scheduler.Config, error) {
	sc := s.Config.Scheduler

	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("invalid SYNC_TIMEZONE %q: %w", sc.Timezone, err)
	}

	wanted := adsync.AdPlatforms()
	if sc.IncludeGA4 {
		wanted = append(wanted, adsync.GA4)
	}
	registered := make(map[adsync.Platform]bool)
	for _, p := range s.Runner.Platforms() {
		registered[p] = true
	}
	var platforms []adsync.Platform
	for _, p := range wanted {
		if registered[p] {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		return scheduler.Config{}, errors.New("no schedulable platforms are configured")
	}

	cfg := scheduler.Config{
		DailySpec: sc.DailyCron,
		Location:  loc,
		Platforms: platforms,
		TokenSpec: sc.MetaTokenCron,
	}
	if sc.EnableFrequentSync {
		every, err := time.ParseDuration(sc.FrequentInterval)
		if err != nil || every <= 0 {
			return scheduler.Config{}, fmt.Errorf("invalid SYNC_FREQUENT_INTERVAL %q", sc.FrequentInterval)
		}
		cfg.FrequentEvery = every
	}
	return cfg, nil
}

// NewScheduler builds the cron scheduler over the runner
func (s *Services) NewScheduler() (*scheduler.Scheduler, error) {
	cfg, err := s.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	return scheduler.New(s.Runner, s.TokenRefresher(), cfg)
}

func newNotifier(slackCfg config.Slack, emailCfg config.Email) *notifications.Service {
	svc := notifications.NewService()

	if slackCfg.WebhookURL != "" {
		ch, err := notifications.NewSlackChannel(slackCfg.WebhookURL, slackCfg.Channel)
		if err != nil {
			log.Warn().Err(err).Msg("Invalid Slack configuration, Slack alerts disabled")
		} else {
			svc.AddChannel(ch)
		}
	}

	if emailCfg.Enabled() {
		ch, err := notifications.NewEmailChannel(notifications.EmailConfig{
			APIKey:          emailCfg.LoopsAPIKey,
			TransactionalID: emailCfg.TransactionalID,
			Recipients:      emailCfg.Recipients,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Invalid email alert configuration, email alerts disabled")
		} else {
			svc.AddChannel(ch)
		}
	}

	if !svc.Enabled() {
		log.Warn().Msg("No alert channel configured, failure alerts disabled")
	}
	return svc
}
