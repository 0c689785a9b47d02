package ga4

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	sql    string
	params map[string]any
}

type fakeExportWarehouse struct {
	ensured []string
	execs   []recordedQuery
	counts  []recordedQuery
	count   int64
	execErr error
}

func params(ps []warehouse.Param) map[string]any {
	out := make(map[string]any, len(ps))
	for _, p := range ps {
		out[p.Name] = p.Value
	}
	return out
}

func (f *fakeExportWarehouse) EnsureTable(_ context.Context, table warehouse.Table) error {
	f.ensured = append(f.ensured, table.Name)
	return nil
}

func (f *fakeExportWarehouse) Exec(_ context.Context, sql string, ps ...warehouse.Param) (int64, error) {
	f.execs = append(f.execs, recordedQuery{sql: sql, params: params(ps)})
	return 0, f.execErr
}

func (f *fakeExportWarehouse) Count(_ context.Context, sql string, ps ...warehouse.Param) (int64, error) {
	f.counts = append(f.counts, recordedQuery{sql: sql, params: params(ps)})
	return f.count, nil
}

func (f *fakeExportWarehouse) QualifiedName(table string) string {
	return "`proj.ads_data." + table + "`"
}
func (f *fakeExportWarehouse) Project() string { return "proj" }

func TestExportSync_SyncAccount(t *testing.T) {
	wh := &fakeExportWarehouse{count: 42}
	s := newExportSync(wh, 30)

	require.NoError(t, s.Prepare(context.Background()))
	assert.Equal(t, []string{"ga4_unified_performance"}, wh.ensured)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	window := s.Window(now)
	assert.Equal(t, "2026-09-19..2026-10-19", window.String())

	n, err := s.SyncAccount(context.Background(),
		adsync.Account{ClientID: "ab12cd34", ClientName: "Acme", AccountID: "314159"}, window, now)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	require.Len(t, wh.execs, 1)
	script := wh.execs[0]
	assert.Contains(t, script.sql, "BEGIN TRANSACTION;")
	assert.Contains(t, script.sql, "DELETE FROM `proj.ads_data.ga4_unified_performance`")
	assert.Contains(t, script.sql, "FROM `proj.analytics_314159.events_*`")
	assert.Contains(t, script.sql, "PARSE_DATE('%Y%m%d', event_date)")
	assert.Equal(t, "20260919", script.params["start_suffix"])
	assert.Equal(t, "20261019", script.params["end_suffix"])
	assert.Equal(t, "ab12cd34", script.params["client_id"])

	require.Len(t, wh.counts, 1)
	assert.Equal(t, now, wh.counts[0].params["sync_timestamp"])
}

func TestExportSync_RejectsInvalidProperty(t *testing.T) {
	wh := &fakeExportWarehouse{}
	s := newExportSync(wh, 30)

	_, err := s.SyncAccount(context.Background(), adsync.Account{AccountID: "1; DROP TABLE x"}, adsync.DateRange{}, time.Now())
	assert.Error(t, err)
	assert.Empty(t, wh.execs)
}

func TestExportSync_ExecFailure(t *testing.T) {
	wh := &fakeExportWarehouse{execErr: errors.New("access denied")}
	s := newExportSync(wh, 30)

	_, err := s.SyncAccount(context.Background(), adsync.Account{AccountID: "1"}, adsync.DateRange{}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, wh.counts)
}

func TestNewExportSync_RequiresBigQuery(t *testing.T) {
	wh, err := warehouse.NewSQLite(":memory:")
	require.NoError(t, err)
	defer wh.Close()

	_, err = NewExportSync(wh, 30)
	assert.ErrorIs(t, err, ErrUnsupportedWarehouse)
}
