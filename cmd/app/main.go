package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/api"
	"github.com/Harvey-AU/ad-metrics-sync/internal/app"
	"github.com/Harvey-AU/ad-metrics-sync/internal/auth"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/observability"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "ad-metrics-sync"

// Config holds the process settings loaded from environment variables.
// Sync and vendor settings live in internal/config.
type Config struct {
	Port                 string // HTTP port to listen on
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	RateLimitRPS         int    // Per-IP request rate
	RateLimitBurst       int    // Per-IP burst capacity
}

func loadConfig() *Config {
	return &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		RateLimitRPS:         getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 10),
	}
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	settings := loadConfig()
	setupLogging(settings)

	// Initialise Sentry for error tracking and performance monitoring
	if settings.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         settings.SentryDSN,
			Environment: settings.Env,
			TracesSampleRate: func() float64 {
				if settings.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            settings.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", settings.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsProviders := initObservability(ctx, settings)
	if obsProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Connect to PostgreSQL, retrying while the database comes up
	pgDB, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	services, err := app.Build(ctx, cfg, pgDB)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to build sync services")
	}
	defer services.Close()

	validator, err := auth.New(ctx, auth.FromConfig(cfg.Auth))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise API authentication")
	}

	supervisor := app.NewSupervisor(serviceName, app.SupervisorConfig{})

	var sched api.SyncScheduler
	if cfg.Scheduler.Disabled {
		log.Warn().Msg("SCHEDULER_DISABLED set, cron jobs will not run")
	} else {
		s, err := services.NewScheduler()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scheduler")
		}
		supervisor.Add(s)
		sched = s
	}

	// Interfaces stay nil when the service is absent
	var googleAds api.ConnectionTester
	if services.GoogleAds != nil {
		googleAds = services.GoogleAds
	}

	apiHandler := api.NewHandler(pgDB, sched, services.Tokens, googleAds, validator)
	limiter := api.NewRateLimiter(float64(settings.RateLimitRPS), settings.RateLimitBurst)

	server := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           api.NewRouter(apiHandler, limiter, obsProviders),
		ReadHeaderTimeout: 10 * time.Second,
	}
	supervisor.Add(app.NewHTTPService("http-server", server, 30*time.Second))

	if obsProviders != nil && obsProviders.MetricsHandler != nil && settings.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           obsProviders.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		supervisor.Add(app.NewHTTPService("metrics-server", metricsSrv, 5*time.Second))
		log.Info().Str("addr", settings.MetricsAddr).Msg("Metrics server listening")
	}

	baseURL := fmt.Sprintf("http://localhost:%s", settings.Port)
	log.Info().Str("port", settings.Port).Str("health", baseURL+"/health").Msg("Starting server")

	if err := supervisor.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Supervisor stopped with error")
	}

	log.Info().Msg("Shutting down, waiting for background syncs")
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiHandler.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Background syncs cancelled before completing")
	}

	log.Info().Msg("Server stopped")
}

func initObservability(ctx context.Context, settings *Config) *observability.Providers {
	if !settings.ObservabilityEnabled {
		return nil
	}

	prov, err := observability.Init(ctx, observability.Config{
		Enabled:        true,
		ServiceName:    serviceName,
		Environment:    settings.Env,
		OTLPEndpoint:   strings.TrimSpace(settings.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(settings.OTLPHeaders),
		OTLPInsecure:   settings.OTLPInsecure,
		MetricsAddress: settings.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil
	}
	return prov
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(settings *Config) {
	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if settings.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
