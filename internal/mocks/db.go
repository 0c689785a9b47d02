package mocks

import (
	"context"
	"database/sql"

	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockDB is a mock implementation of the registry and run-history store
type MockDB struct {
	mock.Mock
}

// GetDB mocks the GetDB method to return underlying *sql.DB
func (m *MockDB) GetDB() *sql.DB {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*sql.DB)
}

func (m *MockDB) TestConnection(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDB) InsertClient(ctx context.Context, client *db.Client) (string, error) {
	args := m.Called(ctx, client)
	return args.String(0), args.Error(1)
}

func (m *MockDB) GetClient(ctx context.Context, clientID string) (*db.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Client), args.Error(1)
}

func (m *MockDB) ListClients(ctx context.Context, activeOnly bool) ([]*db.Client, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Client), args.Error(1)
}

// ListActiveClientsWithAccount mocks the batch driver's client lookup
func (m *MockDB) ListActiveClientsWithAccount(ctx context.Context, column string) ([]*db.Client, error) {
	args := m.Called(ctx, column)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Client), args.Error(1)
}

func (m *MockDB) SetClientActive(ctx context.Context, clientID string, active bool) error {
	args := m.Called(ctx, clientID, active)
	return args.Error(0)
}

func (m *MockDB) CreateSyncRun(ctx context.Context, run *db.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDB) CompleteSyncRun(ctx context.Context, run *db.SyncRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDB) ListSyncRuns(ctx context.Context, platform string, limit int) ([]*db.SyncRun, error) {
	args := m.Called(ctx, platform, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.SyncRun), args.Error(1)
}

// SaveToken mocks persisting a refreshed platform token
func (m *MockDB) SaveToken(ctx context.Context, token *db.PlatformToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockDB) GetToken(ctx context.Context, platform string) (*db.PlatformToken, error) {
	args := m.Called(ctx, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.PlatformToken), args.Error(1)
}
