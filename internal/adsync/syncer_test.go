package adsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeTable = warehouse.Table{
	Name:           "fake_performance",
	PartitionField: "date",
	AccountField:   "account_id",
	Columns: []warehouse.Column{
		{Name: "sync_timestamp", Type: warehouse.Timestamp},
		{Name: "date", Type: warehouse.Date},
		{Name: "account_id", Type: warehouse.String},
		{Name: "clicks", Type: warehouse.Integer},
	},
}

type fakeSource struct {
	rows  []warehouse.Row
	err   error
	calls int
}

func (f *fakeSource) Platform() Platform     { return TikTokAds }
func (f *fakeSource) Table() warehouse.Table { return fakeTable }
func (f *fakeSource) Fetch(context.Context, Account, DateRange) ([]warehouse.Row, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]warehouse.Row, len(f.rows))
	for i, r := range f.rows {
		cp := make(warehouse.Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func newSQLiteWarehouse(t *testing.T) *warehouse.SQLite {
	t.Helper()
	wh, err := warehouse.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	return wh
}

func countFakeRows(t *testing.T, wh *warehouse.SQLite) int {
	t.Helper()
	var n int
	require.NoError(t, wh.DB().QueryRow(`SELECT COUNT(*) FROM fake_performance`).Scan(&n))
	return n
}

func TestReportSyncer_AppendStampsRows(t *testing.T) {
	ctx := context.Background()
	wh := newSQLiteWarehouse(t)
	src := &fakeSource{rows: []warehouse.Row{
		{"date": "2026-10-01", "account_id": "7001", "clicks": 3},
		{"date": "2026-10-02", "account_id": "7001", "clicks": 5},
	}}
	syncer := NewReportSyncer(src, wh, ReportOptions{})
	require.NoError(t, syncer.Prepare(ctx))

	stamp := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	window := syncer.Window(stamp)
	assert.Equal(t, 31, window.Days())

	n, err := syncer.SyncAccount(ctx, Account{ClientID: "c1", AccountID: "7001"}, window, stamp)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Append mode duplicates on re-run
	_, err = syncer.SyncAccount(ctx, Account{ClientID: "c1", AccountID: "7001"}, window, stamp.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, countFakeRows(t, wh))

	var distinct int
	require.NoError(t, wh.DB().QueryRow(`SELECT COUNT(DISTINCT sync_timestamp) FROM fake_performance`).Scan(&distinct))
	assert.Equal(t, 2, distinct)
}

func TestReportSyncer_ReplaceModeClearsWindow(t *testing.T) {
	ctx := context.Background()
	wh := newSQLiteWarehouse(t)
	src := &fakeSource{rows: []warehouse.Row{
		{"date": "2026-10-01", "account_id": "7001", "clicks": 3},
	}}
	syncer := NewReportSyncer(src, wh, ReportOptions{WriteMode: WriteReplace})
	require.NoError(t, syncer.Prepare(ctx))

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	window := syncer.Window(now)
	acct := Account{ClientID: "c1", AccountID: "7001"}

	for range 3 {
		_, err := syncer.SyncAccount(ctx, acct, window, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, countFakeRows(t, wh))
}

func TestReportSyncer_ReplaceModeFailedLoadKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	wh := newSQLiteWarehouse(t)
	src := &fakeSource{rows: []warehouse.Row{
		{"date": "2026-10-01", "account_id": "7001", "clicks": 3},
		{"date": "2026-10-02", "account_id": "7001", "clicks": 4},
	}}
	syncer := NewReportSyncer(src, wh, ReportOptions{WriteMode: WriteReplace})
	require.NoError(t, syncer.Prepare(ctx))

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	window := syncer.Window(now)
	acct := Account{ClientID: "c1", AccountID: "7001"}

	n, err := syncer.SyncAccount(ctx, acct, window, now)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	src.rows = []warehouse.Row{
		{"date": "2026-10-03", "account_id": "7001", "clicks": 9},
		{"date": "not-a-date", "account_id": "7001", "clicks": 1},
	}
	_, err = syncer.SyncAccount(ctx, acct, window, now.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")

	assert.Equal(t, 2, countFakeRows(t, wh))
	var clicks int
	require.NoError(t, wh.DB().QueryRow(`SELECT SUM(clicks) FROM fake_performance`).Scan(&clicks))
	assert.Equal(t, 7, clicks)
}

func TestReportSyncer_NoDataIsSuccess(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	syncer := NewReportSyncer(&fakeSource{}, wh, ReportOptions{})
	require.NoError(t, syncer.Prepare(context.Background()))

	n, err := syncer.SyncAccount(context.Background(), Account{AccountID: "x"}, Trailing(time.Now(), 30, 0), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReportSyncer_FetchError(t *testing.T) {
	wh := newSQLiteWarehouse(t)
	syncer := NewReportSyncer(&fakeSource{err: errors.New("401 unauthorized")}, wh, ReportOptions{})

	_, err := syncer.SyncAccount(context.Background(), Account{AccountID: "x"}, Trailing(time.Now(), 30, 0), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch report")
}

func TestReportSyncer_InvalidRowLoadsNothing(t *testing.T) {
	ctx := context.Background()
	wh := newSQLiteWarehouse(t)
	src := &fakeSource{rows: []warehouse.Row{
		{"date": "2026-10-01", "account_id": "7001", "clicks": 1},
		{"date": "2026-10-02", "account_id": "7001", "clicks": "many"},
	}}
	syncer := NewReportSyncer(src, wh, ReportOptions{})
	require.NoError(t, syncer.Prepare(ctx))

	_, err := syncer.SyncAccount(ctx, Account{AccountID: "7001"}, Trailing(time.Now(), 30, 0), time.Now())
	require.Error(t, err)
	assert.Equal(t, 0, countFakeRows(t, wh))
}
