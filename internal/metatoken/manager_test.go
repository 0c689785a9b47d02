package metatoken

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/meta"
	"github.com/Harvey-AU/ad-metrics-sync/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type mockGraph struct {
	mock.Mock
}

func (m *mockGraph) DebugToken(ctx context.Context, token string) (*meta.TokenInfo, error) {
	args := m.Called(ctx, token)
	if info := args.Get(0); info != nil {
		return info.(*meta.TokenInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) ExchangeToken(ctx context.Context, token string) (*meta.ExchangedToken, error) {
	args := m.Called(ctx, token)
	if tok := args.Get(0); tok != nil {
		return tok.(*meta.ExchangedToken), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveToken(ctx context.Context, token *db.PlatformToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockStore) GetToken(ctx context.Context, platform string) (*db.PlatformToken, error) {
	args := m.Called(ctx, platform)
	if tok := args.Get(0); tok != nil {
		return tok.(*db.PlatformToken), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingNotifier struct {
	sent []*notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *notifications.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func expiringIn(days int) *time.Time {
	t := testNow.Add(time.Duration(days)*24*time.Hour + time.Hour)
	return &t
}

func newManager(graph GraphClient, store TokenStore, notifier Notifier) *Manager {
	m := New(config.Meta{AppID: "42", AppSecret: "secret", AccessToken: "env-token", RefreshDays: 30}, graph, store, notifier)
	m.now = func() time.Time { return testNow }
	return m
}

func TestToken_PrefersStoredToken(t *testing.T) {
	store := new(mockStore)
	store.On("GetToken", mock.Anything, "meta_ads").Return(&db.PlatformToken{AccessToken: "stored-token"}, nil).Once()

	m := newManager(new(mockGraph), store, nil)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", tok)

	// second call does not hit the store
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", tok)
	store.AssertExpectations(t)
}

func TestToken_PicksUpTokenSavedElsewhere(t *testing.T) {
	store := new(mockStore)
	store.On("GetToken", mock.Anything, "meta_ads").Return(&db.PlatformToken{AccessToken: "first-token"}, nil).Once()
	store.On("GetToken", mock.Anything, "meta_ads").Return(&db.PlatformToken{AccessToken: "refreshed-by-cli"}, nil).Once()

	m := newManager(new(mockGraph), store, nil)
	now := testNow
	m.now = func() time.Time { return now }

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok)

	now = now.Add(tokenReloadInterval - time.Second)
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok)

	now = now.Add(time.Second)
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-by-cli", tok)
	store.AssertExpectations(t)
}

func TestToken_StoreErrorKeepsLastKnownToken(t *testing.T) {
	store := new(mockStore)
	store.On("GetToken", mock.Anything, "meta_ads").Return(&db.PlatformToken{AccessToken: "stored-token"}, nil).Once()
	store.On("GetToken", mock.Anything, "meta_ads").Return(nil, errors.New("connection reset")).Once()
	store.On("GetToken", mock.Anything, "meta_ads").Return(&db.PlatformToken{AccessToken: "stored-token-2"}, nil).Once()

	m := newManager(new(mockGraph), store, nil)
	now := testNow
	m.now = func() time.Time { return now }

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(tokenReloadInterval)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", tok)

	// the failed reload is retried on the next call
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token-2", tok)
	store.AssertExpectations(t)
}

func TestToken_FallsBackToEnv(t *testing.T) {
	store := new(mockStore)
	store.On("GetToken", mock.Anything, "meta_ads").Return(nil, db.ErrTokenNotFound)

	m := newManager(new(mockGraph), store, nil)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)
}

func TestToken_NotConfigured(t *testing.T) {
	m := New(config.Meta{}, new(mockGraph), nil, nil)
	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, m.CanRefresh())
}

func TestValidate_DaysLeft(t *testing.T) {
	graph := new(mockGraph)
	graph.On("DebugToken", mock.Anything, "tok").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(12), Scopes: []string{"ads_read"}}, nil)

	v, err := newManager(graph, nil, nil).Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.NotNil(t, v.DaysLeft)
	assert.Equal(t, 12, *v.DaysLeft)
	assert.False(t, v.NeverExpires())
}

func TestAutoRefresh(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(g *mockGraph, s *mockStore)
		wantAction string
		wantReason string
		wantToken  string
		wantAlerts int
	}{
		{
			name: "invalid_token",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: false, Error: "Session has expired"}, nil)
			},
			wantAction: ActionManualRefreshNeeded,
			wantToken:  "env-token",
			wantAlerts: 1,
		},
		{
			name: "never_expires",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true}, nil)
			},
			wantAction: ActionNoRefreshNeeded,
			wantReason: "token_never_expires",
			wantToken:  "env-token",
		},
		{
			name: "plenty_of_time",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(45)}, nil)
			},
			wantAction: ActionNoRefreshNeeded,
			wantToken:  "env-token",
		},
		{
			name: "refreshed",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(10)}, nil)
				g.On("ExchangeToken", mock.Anything, "env-token").Return(&meta.ExchangedToken{AccessToken: "new-token", ExpiresIn: 60 * 24 * time.Hour}, nil)
				g.On("DebugToken", mock.Anything, "new-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(60)}, nil)
				s.On("SaveToken", mock.Anything, mock.MatchedBy(func(tok *db.PlatformToken) bool {
					return tok.Platform == "meta_ads" && tok.AccessToken == "new-token" && tok.ExpiresAt != nil
				})).Return(nil)
			},
			wantAction: ActionTokenRefreshed,
			wantToken:  "new-token",
			wantAlerts: 1,
		},
		{
			name: "exchange_fails",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(30)}, nil)
				g.On("ExchangeToken", mock.Anything, "env-token").Return(nil, errors.New("OAuthException"))
			},
			wantAction: ActionManualRefreshNeeded,
			wantToken:  "env-token",
			wantAlerts: 1,
		},
		{
			name: "new_token_invalid",
			setup: func(g *mockGraph, s *mockStore) {
				g.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(5)}, nil)
				g.On("ExchangeToken", mock.Anything, "env-token").Return(&meta.ExchangedToken{AccessToken: "bad"}, nil)
				g.On("DebugToken", mock.Anything, "bad").Return(&meta.TokenInfo{Valid: false}, nil)
			},
			wantAction: ActionManualRefreshNeeded,
			wantToken:  "env-token",
			wantAlerts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph := new(mockGraph)
			store := new(mockStore)
			store.On("GetToken", mock.Anything, "meta_ads").Return(nil, db.ErrTokenNotFound)
			tt.setup(graph, store)
			notifier := &recordingNotifier{}

			m := newManager(graph, store, notifier)
			result := m.AutoRefresh(context.Background())

			assert.Equal(t, tt.wantAction, result.Action)
			assert.Equal(t, tt.wantReason, result.Reason)
			assert.Equal(t, tt.wantAction != ActionManualRefreshNeeded, result.Success)
			assert.Len(t, notifier.sent, tt.wantAlerts)

			tok, err := m.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, tok)

			graph.AssertExpectations(t)
			store.AssertExpectations(t)
		})
	}
}

func TestAutoRefresh_ReportsDays(t *testing.T) {
	graph := new(mockGraph)
	graph.On("DebugToken", mock.Anything, "env-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(20)}, nil)
	graph.On("ExchangeToken", mock.Anything, "env-token").Return(&meta.ExchangedToken{AccessToken: "new-token"}, nil)
	graph.On("DebugToken", mock.Anything, "new-token").Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(59)}, nil)

	result := newManager(graph, nil, nil).AutoRefresh(context.Background())
	require.Equal(t, ActionTokenRefreshed, result.Action)
	assert.Equal(t, 20, *result.OldExpiresIn)
	assert.Equal(t, 59, *result.NewExpiresIn)
}

func TestStatus(t *testing.T) {
	graph := new(mockGraph)
	graph.On("DebugToken", mock.Anything, "env-token").
		Return(&meta.TokenInfo{Valid: true, ExpiresAt: expiringIn(25), Scopes: []string{"ads_read"}}, nil).Once()

	m := newManager(graph, nil, nil)
	status := m.Status(context.Background())

	assert.True(t, status.TokenValid)
	assert.True(t, status.TokenConfigured)
	assert.Equal(t, "42", status.AppID)
	require.NotNil(t, status.DaysLeft)
	assert.Equal(t, 25, *status.DaysLeft)
	require.NotNil(t, status.RequiresRefresh)
	assert.True(t, *status.RequiresRefresh)
	assert.Equal(t, expiringIn(25).Format(time.RFC3339), status.ExpiresAt)

	// cached: DebugToken is only expected once
	again := m.Status(context.Background())
	assert.Same(t, status, again)
	graph.AssertExpectations(t)
}

func TestStatus_InvalidToken(t *testing.T) {
	graph := new(mockGraph)
	graph.On("DebugToken", mock.Anything, "env-token").Return(nil, errors.New("connection refused"))

	status := newManager(graph, nil, nil).Status(context.Background())
	assert.False(t, status.TokenValid)
	assert.True(t, status.RequiresManualIntervention)
	assert.Contains(t, status.Error, "connection refused")
	assert.Nil(t, status.RequiresRefresh)
}

func TestStatus_NoToken(t *testing.T) {
	m := New(config.Meta{}, new(mockGraph), nil, nil)
	status := m.Status(context.Background())
	assert.False(t, status.TokenConfigured)
	assert.True(t, status.RequiresManualIntervention)
}
