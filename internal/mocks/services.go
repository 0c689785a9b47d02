package mocks

import (
	"context"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/googleads"
	"github.com/Harvey-AU/ad-metrics-sync/internal/metatoken"
	"github.com/Harvey-AU/ad-metrics-sync/internal/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockScheduler mocks the sync scheduler's status and manual trigger
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Status() scheduler.Status {
	args := m.Called()
	return args.Get(0).(scheduler.Status)
}

func (m *MockScheduler) TriggerManual(ctx context.Context, platforms []adsync.Platform) *adsync.BatchResult {
	args := m.Called(ctx, platforms)
	return args.Get(0).(*adsync.BatchResult)
}

// MockTokenManager mocks the Meta token manager
type MockTokenManager struct {
	mock.Mock
}

func (m *MockTokenManager) Status(ctx context.Context) *metatoken.Status {
	args := m.Called(ctx)
	return args.Get(0).(*metatoken.Status)
}

func (m *MockTokenManager) AutoRefresh(ctx context.Context) *metatoken.RefreshResult {
	args := m.Called(ctx)
	return args.Get(0).(*metatoken.RefreshResult)
}

// MockConnectionTester mocks a vendor credential check
type MockConnectionTester struct {
	mock.Mock
}

func (m *MockConnectionTester) TestConnection(ctx context.Context) (*googleads.ConnectionStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*googleads.ConnectionStatus), args.Error(1)
}

// MockRunner mocks the batch driver
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Platforms() []adsync.Platform {
	args := m.Called()
	return args.Get(0).([]adsync.Platform)
}

func (m *MockRunner) SyncAll(ctx context.Context, platforms []adsync.Platform, trigger string) *adsync.BatchResult {
	args := m.Called(ctx, platforms, trigger)
	return args.Get(0).(*adsync.BatchResult)
}
