// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for the HTTP surface and the sync pipeline.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	syncTracer trace.Tracer

	clientSyncDuration metric.Float64Histogram
	clientSyncTotal    metric.Int64Counter
	rowsWritten        metric.Int64Counter
	vendorRequests     metric.Int64Counter
	breakerState       metric.Int64Gauge
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "ad-metrics-sync"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Traces are optional; the service runs without them
			log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("Failed to create OTLP trace exporter, traces disabled")
		} else {
			spanExporter = exp
			log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter initialised")
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		syncTracer = tracerProvider.Tracer("ad-metrics-sync/sync")
		_ = initSyncInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		// Skip tracing for health checks to reduce noise
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/health/db"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initSyncInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("ad-metrics-sync/sync")

	var err error
	clientSyncDuration, err = meter.Float64Histogram(
		"adsync.client.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to sync one client for one platform"),
	)
	if err != nil {
		return err
	}

	clientSyncTotal, err = meter.Int64Counter(
		"adsync.client.total",
		metric.WithDescription("Counts client sync outcomes per platform"),
	)
	if err != nil {
		return err
	}

	rowsWritten, err = meter.Int64Counter(
		"adsync.rows.written",
		metric.WithDescription("Rows appended to the warehouse"),
	)
	if err != nil {
		return err
	}

	vendorRequests, err = meter.Int64Counter(
		"adsync.vendor.requests",
		metric.WithDescription("Vendor API requests by outcome"),
	)
	if err != nil {
		return err
	}

	breakerState, err = meter.Int64Gauge(
		"adsync.vendor.breaker_state",
		metric.WithDescription("Circuit breaker state per vendor (0 closed, 1 half-open, 2 open)"),
	)
	return err
}

// ClientSyncSpanInfo describes the attributes used when starting a client sync span.
type ClientSyncSpanInfo struct {
	Platform  string
	ClientID  string
	AccountID string
	Trigger   string
}

// ClientSyncMetrics describes a finished client sync for metric recording.
type ClientSyncMetrics struct {
	Platform string
	Status   string
	Rows     int
	Duration time.Duration
}

// StartClientSyncSpan starts a span for one client's platform sync.
func StartClientSyncSpan(ctx context.Context, info ClientSyncSpanInfo) (context.Context, trace.Span) {
	t := syncTracer
	if t == nil {
		t = otel.Tracer("ad-metrics-sync/sync")
	}

	attrs := []attribute.KeyValue{
		attribute.String("sync.platform", info.Platform),
		attribute.String("sync.client_id", info.ClientID),
		attribute.String("sync.account_id", info.AccountID),
		attribute.String("sync.trigger", info.Trigger),
	}

	return t.Start(ctx, "adsync.sync_client", trace.WithAttributes(attrs...))
}

// RecordClientSync emits client sync metrics when instrumentation is initialised.
func RecordClientSync(ctx context.Context, m ClientSyncMetrics) {
	attrs := metric.WithAttributes(attribute.String("sync.platform", m.Platform), attribute.String("sync.status", m.Status))

	if clientSyncDuration != nil {
		clientSyncDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if clientSyncTotal != nil {
		clientSyncTotal.Add(ctx, 1, attrs)
	}
	if rowsWritten != nil && m.Rows > 0 {
		rowsWritten.Add(ctx, int64(m.Rows), metric.WithAttributes(attribute.String("sync.platform", m.Platform)))
	}
}

// RecordVendorRequest counts a vendor API call; outcome is success, failure or rejected.
func RecordVendorRequest(ctx context.Context, vendor, outcome string) {
	if vendorRequests != nil {
		vendorRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("vendor", vendor),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordBreakerState records the circuit breaker state for a vendor.
func RecordBreakerState(ctx context.Context, vendor string, state int64) {
	if breakerState != nil {
		breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("vendor", vendor)))
	}
}
