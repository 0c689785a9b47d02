package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	wh, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	require.NoError(t, wh.EnsureTable(context.Background(), testTable))
	return wh
}

func countRows(t *testing.T, wh *SQLite, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, wh.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func TestSQLite_EnsureTableIsIdempotent(t *testing.T) {
	wh := newTestSQLite(t)
	assert.NoError(t, wh.EnsureTable(context.Background(), testTable))
}

func TestSQLite_AppendAndReplaceRange(t *testing.T) {
	ctx := context.Background()
	wh := newTestSQLite(t)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	rows := []Row{
		{"sync_timestamp": now, "date": "2026-10-01", "account_id": "a", "impressions": 10, "spend": 2.5},
		{"sync_timestamp": now, "date": "2026-10-05", "account_id": "a", "impressions": 4, "spend": 1.0},
		{"sync_timestamp": now, "date": "2026-10-05", "account_id": "b", "impressions": 7, "spend": 0.0},
	}

	n, err := wh.Append(ctx, testTable, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, countRows(t, wh, `SELECT COUNT(*) FROM test_performance`))

	var stamp string
	require.NoError(t, wh.DB().QueryRow(`SELECT sync_timestamp FROM test_performance LIMIT 1`).Scan(&stamp))
	assert.Equal(t, "2026-10-19 08:00:00.000000", stamp)

	replacement := []Row{
		{"sync_timestamp": now, "date": "2026-10-06", "account_id": "a", "impressions": 20},
		{"sync_timestamp": now, "date": "2026-10-07", "account_id": "a", "impressions": 30},
	}
	n, err = wh.ReplaceRange(ctx, testTable, "a",
		time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
		replacement)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 2026-10-01 is outside the window and survives
	assert.Equal(t, 3, countRows(t, wh, `SELECT COUNT(*) FROM test_performance WHERE account_id = ?`, "a"))
	assert.Equal(t, 0, countRows(t, wh, `SELECT COUNT(*) FROM test_performance WHERE account_id = ? AND date = ?`, "a", "2026-10-05"))
	assert.Equal(t, 1, countRows(t, wh, `SELECT COUNT(*) FROM test_performance WHERE account_id = ?`, "b"))
}

func TestSQLite_ReplaceRangeRollsBackOnBadRow(t *testing.T) {
	ctx := context.Background()
	wh := newTestSQLite(t)

	_, err := wh.Append(ctx, testTable, []Row{
		{"date": "2026-10-01", "account_id": "a", "impressions": 1},
		{"date": "2026-10-02", "account_id": "a", "impressions": 2},
	})
	require.NoError(t, err)

	_, err = wh.ReplaceRange(ctx, testTable, "a",
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
		[]Row{
			{"date": "2026-10-03", "account_id": "a", "impressions": 3},
			{"date": "not-a-date", "account_id": "a", "impressions": 4},
		})
	require.Error(t, err)

	assert.Equal(t, 2, countRows(t, wh, `SELECT COUNT(*) FROM test_performance WHERE account_id = ?`, "a"))
	assert.Equal(t, 0, countRows(t, wh, `SELECT COUNT(*) FROM test_performance WHERE date = ?`, "2026-10-03"))
}

func TestSQLite_AppendIsAtomic(t *testing.T) {
	ctx := context.Background()
	wh := newTestSQLite(t)

	rows := []Row{
		{"date": "2026-10-01", "account_id": "a"},
		{"date": "2026-10-02", "account_id": "a", "impressions": "not-a-number"},
	}

	_, err := wh.Append(ctx, testTable, rows)
	require.Error(t, err)
	assert.Equal(t, 0, countRows(t, wh, `SELECT COUNT(*) FROM test_performance`))
}

func TestSQLite_AppendEmpty(t *testing.T) {
	wh := newTestSQLite(t)
	n, err := wh.Append(context.Background(), testTable, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_ReplaceRangeRequiresAccountField(t *testing.T) {
	wh := newTestSQLite(t)
	_, err := wh.ReplaceRange(context.Background(), Table{Name: "x"}, "a", time.Now(), time.Now(), nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOpen_SQLiteCreatesAllTables(t *testing.T) {
	wh, err := Open(context.Background(), Options{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer wh.Close()

	lite, ok := wh.(*SQLite)
	require.True(t, ok)
	for _, table := range AllTables() {
		assert.Equal(t, 1, countRows(t, lite,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table.Name), table.Name)
	}
}
