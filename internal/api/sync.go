package api

import (
	"net/http"
	"strconv"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/auth"
	"github.com/rs/zerolog/log"
)

// SyncRunRequest asks for an immediate batch sync
type SyncRunRequest struct {
	Platforms []string `json:"platforms"`
	Wait      bool     `json:"wait"`
}

// SyncStatus reports the scheduler state
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.Scheduler == nil {
		ServiceUnavailable(w, r, "Scheduler is not configured")
		return
	}
	WriteSuccess(w, r, h.Scheduler.Status(), "")
}

// SyncRun triggers a manual sync. With wait the response carries the batch
// result; otherwise the sync continues in the background and the request is
// answered with 202.
func (h *Handler) SyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}
	if h.Scheduler == nil {
		ServiceUnavailable(w, r, "Scheduler is not configured")
		return
	}

	var req SyncRunRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	var platforms []adsync.Platform
	if len(req.Platforms) > 0 {
		parsed, err := adsync.ParsePlatforms(req.Platforms)
		if err != nil {
			BadRequest(w, r, err.Error())
			return
		}
		platforms = parsed
	}

	if !h.beginManual() {
		Conflict(w, r, "A manual sync is already running")
		return
	}

	logger := loggerWithRequest(r).With().
		Str("requested_by", auth.Subject(r.Context())).
		Bool("wait", req.Wait).
		Logger()

	if req.Wait {
		defer h.endManual()
		logger.Info().Msg("Manual sync started")
		result := h.Scheduler.TriggerManual(r.Context(), platforms)

		message := "Sync completed"
		if result.HasFailures() {
			message = "Sync completed with failures"
		}
		WriteSuccess(w, r, result, message)
		return
	}

	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		defer h.endManual()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Msg("Background manual sync panicked")
			}
		}()

		result := h.Scheduler.TriggerManual(h.bgCtx, platforms)
		logger.Info().
			Int64("total_rows", result.TotalRows()).
			Bool("has_failures", result.HasFailures()).
			Msg("Background manual sync finished")
	}()

	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		names = append(names, string(p))
	}
	WriteAccepted(w, r, map[string]any{"platforms": names}, "Sync started")
}

func (h *Handler) beginManual() bool {
	h.manualMu.Lock()
	defer h.manualMu.Unlock()
	if h.manualRunning {
		return false
	}
	h.manualRunning = true
	return true
}

func (h *Handler) endManual() {
	h.manualMu.Lock()
	h.manualRunning = false
	h.manualMu.Unlock()
}

// SyncRuns lists recent run history
func (h *Handler) SyncRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	query := r.URL.Query()

	var platform string
	if v := query.Get("platform"); v != "" {
		p, err := adsync.ParsePlatform(v)
		if err != nil {
			BadRequest(w, r, err.Error())
			return
		}
		platform = string(p)
	}

	limit := 50
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.DB.ListSyncRuns(r.Context(), platform, limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"runs":  runs,
		"count": len(runs),
	}, "")
}

// MetaTokenHandler reports token status (GET) or forces the refresh check (POST)
func (h *Handler) MetaTokenHandler(w http.ResponseWriter, r *http.Request) {
	if h.Tokens == nil && (r.Method == http.MethodGet || r.Method == http.MethodPost) {
		ServiceUnavailable(w, r, "Meta token manager is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		WriteSuccess(w, r, h.Tokens.Status(r.Context()), "")
	case http.MethodPost:
		h.requireAuth(h.refreshMetaToken).ServeHTTP(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) refreshMetaToken(w http.ResponseWriter, r *http.Request) {
	result := h.Tokens.AutoRefresh(r.Context())

	logger := loggerWithRequest(r)
	logger.Info().
		Str("requested_by", auth.Subject(r.Context())).
		Str("action", result.Action).
		Bool("success", result.Success).
		Msg("Meta token refresh requested")

	message := "Token check completed"
	if !result.Success {
		message = "Token requires manual intervention"
	}
	WriteSuccess(w, r, result, message)
}

// GoogleAdsConnection checks the Google Ads credentials
func (h *Handler) GoogleAdsConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.GoogleAds == nil {
		ServiceUnavailable(w, r, "Google Ads is not configured")
		return
	}

	status, err := h.GoogleAds.TestConnection(r.Context())
	if err != nil {
		BadGateway(w, r, err)
		return
	}
	WriteSuccess(w, r, status, "")
}
