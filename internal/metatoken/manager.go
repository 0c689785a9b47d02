// Package metatoken keeps the long-lived Meta access token alive: it inspects
// the token's remaining lifetime and exchanges it before it expires.
package metatoken

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/cache"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/meta"
	"github.com/Harvey-AU/ad-metrics-sync/internal/notifications"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

const (
	platform       = "meta_ads"
	statusCacheKey = "status"
	statusTTL      = 5 * time.Minute
	// Another process (syncctl) may persist a refreshed token
	tokenReloadInterval = statusTTL
)

// ErrNoToken is returned when neither a stored nor a configured token exists
var ErrNoToken = errors.New("meta access token not configured")

// Refresh actions
const (
	ActionManualRefreshNeeded = "manual_refresh_needed"
	ActionNoRefreshNeeded     = "no_refresh_needed"
	ActionTokenRefreshed      = "token_refreshed"
)

// GraphClient is the subset of the Graph API used for token management
type GraphClient interface {
	DebugToken(ctx context.Context, token string) (*meta.TokenInfo, error)
	ExchangeToken(ctx context.Context, token string) (*meta.ExchangedToken, error)
}

// TokenStore persists refreshed tokens
type TokenStore interface {
	SaveToken(ctx context.Context, token *db.PlatformToken) error
	GetToken(ctx context.Context, platform string) (*db.PlatformToken, error)
}

// Notifier delivers refresh alerts
type Notifier interface {
	Notify(ctx context.Context, n *notifications.Notification) error
}

// Validation is the result of inspecting a token
type Validation struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at"`
	DaysLeft  *int       `json:"days_left,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	AppID     string     `json:"app_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NeverExpires reports whether a valid token has no expiry
func (v *Validation) NeverExpires() bool {
	return v.Valid && v.ExpiresAt == nil
}

// RefreshResult describes what AutoRefresh did
type RefreshResult struct {
	Success      bool   `json:"success"`
	Action       string `json:"action"`
	Reason       string `json:"reason,omitempty"`
	DaysLeft     *int   `json:"days_left,omitempty"`
	OldExpiresIn *int   `json:"old_expires_in,omitempty"`
	NewExpiresIn *int   `json:"new_expires_in,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Status is the monitoring view of the current token
type Status struct {
	Timestamp                  time.Time `json:"timestamp"`
	TokenValid                 bool      `json:"token_valid"`
	AppID                      string    `json:"app_id"`
	TokenConfigured            bool      `json:"token_configured"`
	ExpiresAt                  string    `json:"expires_at,omitempty"`
	DaysLeft                   *int      `json:"days_left,omitempty"`
	Scopes                     []string  `json:"scopes,omitempty"`
	RequiresRefresh            *bool     `json:"requires_refresh,omitempty"`
	Error                      string    `json:"error,omitempty"`
	RequiresManualIntervention bool      `json:"requires_manual_intervention,omitempty"`
}

// Manager owns the current Meta access token
type Manager struct {
	client    GraphClient
	store     TokenStore
	notifier  Notifier
	appID     string
	envToken  string
	threshold int
	canManage bool
	now       func() time.Time

	mu       sync.Mutex
	current  string
	loadedAt time.Time

	statusCache *cache.TTLCache[*Status]
}

// New creates a Manager. store and notifier may be nil.
func New(cfg config.Meta, client GraphClient, store TokenStore, notifier Notifier) *Manager {
	threshold := cfg.RefreshDays
	if threshold <= 0 {
		threshold = 30
	}
	return &Manager{
		client:      client,
		store:       store,
		notifier:    notifier,
		appID:       cfg.AppID,
		envToken:    cfg.AccessToken,
		threshold:   threshold,
		canManage:   cfg.CanManageToken(),
		now:         time.Now,
		statusCache: cache.NewTTLCache[*Status](statusTTL),
	}
}

// CanRefresh reports whether app credentials for token exchange are configured
func (m *Manager) CanRefresh() bool {
	return m.canManage
}

// Token returns the current token. A persisted token takes precedence over
// META_ACCESS_TOKEN and is re-read from the store every few minutes.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale() {
		if err := m.reload(ctx); err != nil {
			if m.current == "" {
				return "", err
			}
			// Keep serving the last known token; the store is retried next call
			log.Warn().Err(err).Msg("Failed to load stored Meta token, using last known token")
		}
	}

	if m.current == "" {
		return "", ErrNoToken
	}
	return m.current, nil
}

func (m *Manager) stale() bool {
	return m.loadedAt.IsZero() || m.now().Sub(m.loadedAt) >= tokenReloadInterval
}

// reload reads the persisted token. Callers hold m.mu.
func (m *Manager) reload(ctx context.Context) error {
	if m.current == "" {
		m.current = m.envToken
	}
	if m.store != nil {
		stored, err := m.store.GetToken(ctx, platform)
		switch {
		case err == nil && stored.AccessToken != "":
			m.current = stored.AccessToken
		case err != nil && !errors.Is(err, db.ErrTokenNotFound):
			return fmt.Errorf("load stored token: %w", err)
		}
	}
	m.loadedAt = m.now()
	return nil
}

func (m *Manager) swap(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = token
	m.loadedAt = m.now()
}

// Validate inspects token through debug_token. Transport failures are
// returned as errors; an invalid token is a Validation with Valid false.
func (m *Manager) Validate(ctx context.Context, token string) (*Validation, error) {
	info, err := m.client.DebugToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("debug token: %w", err)
	}

	v := &Validation{
		Valid:     info.Valid,
		ExpiresAt: info.ExpiresAt,
		Scopes:    info.Scopes,
		AppID:     info.AppID,
		Error:     info.Error,
	}
	if v.Valid && v.ExpiresAt != nil {
		days := daysUntil(m.now(), *v.ExpiresAt)
		v.DaysLeft = &days
	}
	return v, nil
}

// Exchange trades token for a long-lived token
func (m *Manager) Exchange(ctx context.Context, token string) (*meta.ExchangedToken, error) {
	exchanged, err := m.client.ExchangeToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}
	log.Info().Dur("expires_in", exchanged.ExpiresIn).Msg("Exchanged Meta token for a long-lived token")
	return exchanged, nil
}

// AutoRefresh exchanges the token when it has threshold days or fewer left
func (m *Manager) AutoRefresh(ctx context.Context) *RefreshResult {
	span := sentry.StartSpan(ctx, "metatoken.auto_refresh")
	defer span.Finish()
	ctx = span.Context()

	result := m.autoRefresh(ctx)
	span.SetTag("action", result.Action)

	logger := log.With().Str("platform", platform).Str("action", result.Action).Logger()
	if result.Success {
		logger.Info().Str("reason", result.Reason).Msg("Meta token check completed")
	} else {
		logger.Error().Str("error", result.Error).Msg("Meta token needs manual refresh")
	}

	if result.Action != ActionNoRefreshNeeded {
		m.statusCache.Delete(statusCacheKey)
		m.alert(ctx, result)
	}
	return result
}

func (m *Manager) autoRefresh(ctx context.Context) *RefreshResult {
	token, err := m.Token(ctx)
	if err != nil {
		return manual(err.Error())
	}

	info, err := m.Validate(ctx, token)
	if err != nil {
		return manual(err.Error())
	}
	if !info.Valid {
		return manual(info.Error)
	}
	if info.NeverExpires() {
		return &RefreshResult{Success: true, Action: ActionNoRefreshNeeded, Reason: "token_never_expires"}
	}

	daysLeft := *info.DaysLeft
	if daysLeft > m.threshold {
		return &RefreshResult{Success: true, Action: ActionNoRefreshNeeded, DaysLeft: &daysLeft}
	}

	log.Info().Int("days_left", daysLeft).Int("threshold", m.threshold).Msg("Meta token nearing expiry, refreshing")

	exchanged, err := m.Exchange(ctx, token)
	if err != nil {
		return manual(err.Error())
	}

	fresh, err := m.Validate(ctx, exchanged.AccessToken)
	if err != nil || !fresh.Valid {
		return manual("New token validation failed")
	}

	expiresAt := fresh.ExpiresAt
	if expiresAt == nil && exchanged.ExpiresIn > 0 {
		t := m.now().Add(exchanged.ExpiresIn).UTC()
		expiresAt = &t
	}
	if m.store != nil {
		if err := m.store.SaveToken(ctx, &db.PlatformToken{
			Platform:    platform,
			AccessToken: exchanged.AccessToken,
			ExpiresAt:   expiresAt,
		}); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Failed to persist refreshed Meta token; it is only held in memory")
		}
	}
	m.swap(exchanged.AccessToken)

	return &RefreshResult{
		Success:      true,
		Action:       ActionTokenRefreshed,
		OldExpiresIn: &daysLeft,
		NewExpiresIn: fresh.DaysLeft,
	}
}

func manual(reason string) *RefreshResult {
	return &RefreshResult{Success: false, Action: ActionManualRefreshNeeded, Error: reason}
}

// Status reports the token's health, cached for five minutes
func (m *Manager) Status(ctx context.Context) *Status {
	status, _ := m.statusCache.GetOrLoad(statusCacheKey, func() (*Status, error) {
		return m.status(ctx), nil
	})
	return status
}

func (m *Manager) status(ctx context.Context) *Status {
	status := &Status{
		Timestamp: m.now().UTC(),
		AppID:     m.appID,
	}

	token, err := m.Token(ctx)
	status.TokenConfigured = err == nil
	if err != nil {
		status.Error = err.Error()
		status.RequiresManualIntervention = true
		return status
	}

	info, err := m.Validate(ctx, token)
	if err != nil {
		status.Error = "Token validation failed: " + err.Error()
		status.RequiresManualIntervention = true
		return status
	}
	if !info.Valid {
		status.Error = info.Error
		status.RequiresManualIntervention = true
		return status
	}

	status.TokenValid = true
	status.Scopes = info.Scopes
	requiresRefresh := false
	if info.NeverExpires() {
		status.ExpiresAt = "never"
	} else {
		status.ExpiresAt = info.ExpiresAt.UTC().Format(time.RFC3339)
		status.DaysLeft = info.DaysLeft
		requiresRefresh = *info.DaysLeft <= m.threshold
	}
	status.RequiresRefresh = &requiresRefresh
	if status.AppID == "" {
		status.AppID = info.AppID
	}
	return status
}

func (m *Manager) alert(ctx context.Context, result *RefreshResult) {
	if m.notifier == nil {
		return
	}

	n := &notifications.Notification{Fields: map[string]string{"action": result.Action}}
	if result.Action == ActionTokenRefreshed {
		n.Title = "Meta access token refreshed"
		n.Message = "The long-lived Meta token was exchanged and stored."
		n.Severity = notifications.SeverityInfo
		if result.NewExpiresIn != nil {
			n.Fields["new_expires_in_days"] = strconv.Itoa(*result.NewExpiresIn)
		}
	} else {
		n.Title = "Meta access token needs manual refresh"
		n.Message = result.Error
		n.Severity = notifications.SeverityError
	}

	if err := m.notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("Failed to send Meta token alert")
	}
}

// daysUntil counts whole days remaining, rounded down
func daysUntil(now, t time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}
