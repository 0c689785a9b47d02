package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/auth"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/googleads"
	"github.com/Harvey-AU/ad-metrics-sync/internal/metatoken"
	"github.com/Harvey-AU/ad-metrics-sync/internal/observability"
	"github.com/Harvey-AU/ad-metrics-sync/internal/scheduler"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

const serviceName = "ad-metrics-sync"

// DBClient is the registry and run-history surface the handlers use
type DBClient interface {
	GetDB() *sql.DB
	TestConnection(ctx context.Context) (string, error)
	InsertClient(ctx context.Context, client *db.Client) (string, error)
	GetClient(ctx context.Context, clientID string) (*db.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]*db.Client, error)
	SetClientActive(ctx context.Context, clientID string, active bool) error
	ListSyncRuns(ctx context.Context, platform string, limit int) ([]*db.SyncRun, error)
}

// SyncScheduler exposes the scheduler's status and manual trigger
type SyncScheduler interface {
	Status() scheduler.Status
	TriggerManual(ctx context.Context, platforms []adsync.Platform) *adsync.BatchResult
}

// TokenManager exposes the Meta token lifecycle
type TokenManager interface {
	Status(ctx context.Context) *metatoken.Status
	AutoRefresh(ctx context.Context) *metatoken.RefreshResult
}

// ConnectionTester checks vendor credentials
type ConnectionTester interface {
	TestConnection(ctx context.Context) (*googleads.ConnectionStatus, error)
}

// Handler holds dependencies for API handlers. Any dependency other than DB
// may be nil, in which case its routes answer 503.
type Handler struct {
	DB        DBClient
	Scheduler SyncScheduler
	Tokens    TokenManager
	GoogleAds ConnectionTester
	Auth      auth.Validator

	now func() time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	manualMu      sync.Mutex
	manualRunning bool
}

// NewHandler creates a new API handler with dependencies
func NewHandler(pgDB DBClient, sched SyncScheduler, tokens TokenManager, googleAds ConnectionTester, validator auth.Validator) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		DB:        pgDB,
		Scheduler: sched,
		Tokens:    tokens,
		GoogleAds: googleAds,
		Auth:      validator,
		now:       time.Now,
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
}

// SetupRoutes configures all API routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Legacy endpoints
	mux.HandleFunc("/{$}", h.Home)
	mux.HandleFunc("/status", h.Status)
	mux.HandleFunc("/test-db", h.TestDB)
	mux.HandleFunc("/add-client", h.AddClientLegacy)

	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	mux.HandleFunc("/v1/clients", h.ClientsHandler)
	mux.HandleFunc("/v1/clients/{id}", h.ClientHandler)

	mux.HandleFunc("/v1/sync/status", h.SyncStatus)
	mux.Handle("/v1/sync/run", h.requireAuth(h.SyncRun))
	mux.HandleFunc("/v1/sync/runs", h.SyncRuns)

	mux.HandleFunc("/v1/meta/token", h.MetaTokenHandler)
	mux.Handle("/v1/connections/google-ads", h.requireAuth(h.GoogleAdsConnection))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "Route not found")
	})
}

// NewRouter builds the full middleware stack around the routes
func NewRouter(h *Handler, limiter *RateLimiter, prov *observability.Providers) http.Handler {
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}

	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = CrossOriginProtectionMiddleware(handler)
	handler = CORSMiddleware(handler)
	return observability.WrapHandler(handler, prov)
}

func (h *Handler) requireAuth(fn http.HandlerFunc) http.Handler {
	return auth.Middleware(h.Auth)(fn)
}

// Drain waits for background syncs started by the API. When ctx ends first
// the remaining syncs are cancelled.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.bgCancel()
		return nil
	case <-ctx.Done():
		h.bgCancel()
		<-done
		return ctx.Err()
	}
}

// Home is the plain-text liveness message
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Ad metrics sync is running!")
}

// StatusResponse is the legacy /status payload
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// Status reports liveness with the server's local time
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	WriteJSON(w, r, StatusResponse{
		Status:  "OK",
		Message: "System running",
		Time:    h.now().Format("2006-01-02 15:04:05"),
	}, http.StatusOK)
}

// TestDB runs the registry round-trip query and answers in plain text
func (h *Handler) TestDB(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.DB == nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Database connection error: database not configured")
		return
	}

	result, err := h.DB.TestConnection(r.Context())
	if err != nil {
		logger := loggerWithRequest(r)
		logger.Error().Err(err).Msg("Database test failed")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Database connection error: %v", err)
		return
	}
	fmt.Fprintf(w, "Database connected (%s)!", result)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, serviceName, Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", errors.New("database connection not configured"))
		return
	}

	if err := h.DB.GetDB().PingContext(r.Context()); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, "postgresql", "")
}
