package warehouse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTable = Table{
	Name:           "test_performance",
	PartitionField: "date",
	AccountField:   "account_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"account_id", String},
		{"impressions", Integer},
		{"spend", Float},
	},
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		row     Row
		wantErr string
	}{
		{name: "valid", row: Row{"date": "2026-10-01", "account_id": "1"}},
		{name: "unknown_column", row: Row{"date": "2026-10-01", "bogus": 1}, wantErr: "no column"},
		{name: "missing_partition", row: Row{"account_id": "1"}, wantErr: "missing partition field"},
		{name: "nil_partition", row: Row{"date": nil}, wantErr: "missing partition field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(testTable, tt.row)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodeValue(t *testing.T) {
	stamp := time.Date(2026, 10, 19, 8, 0, 1, 500000000, time.FixedZone("AEST", 10*3600))

	tests := []struct {
		name    string
		col     Column
		in      any
		want    any
		wantErr bool
	}{
		{name: "date_from_time", col: Column{"d", Date}, in: stamp, want: "2026-10-19"},
		{name: "date_from_string", col: Column{"d", Date}, in: "2026-01-31", want: "2026-01-31"},
		{name: "bad_date", col: Column{"d", Date}, in: "31/01/2026", wantErr: true},
		{name: "timestamp_utc", col: Column{"t", Timestamp}, in: stamp, want: "2026-10-18 22:00:01.500000"},
		{name: "int_widened", col: Column{"i", Integer}, in: 42, want: int64(42)},
		{name: "float_from_int", col: Column{"f", Float}, in: int64(3), want: float64(3)},
		{name: "nil_passthrough", col: Column{"s", String}, in: nil, want: nil},
		{name: "type_mismatch", col: Column{"i", Integer}, in: "12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeValue(tt.col, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeNDJSON(t *testing.T) {
	rows := []Row{
		{"date": "2026-10-01", "account_id": "a", "impressions": 10, "spend": 1.5},
		{"date": time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), "account_id": "a"},
	}

	payload, err := encodeNDJSON(testTable, rows)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	var decoded []map[string]any
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		decoded = append(decoded, m)
	}

	require.Len(t, decoded, 2)
	assert.Equal(t, "2026-10-01", decoded[0]["date"])
	assert.EqualValues(t, 10, decoded[0]["impressions"])
	assert.Equal(t, "2026-10-02", decoded[1]["date"])
	assert.NotContains(t, decoded[1], "spend")
}

func TestEncodeNDJSON_RejectsInvalidRow(t *testing.T) {
	_, err := encodeNDJSON(testTable, []Row{{"account_id": "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
}

func TestBigQuerySchema(t *testing.T) {
	schema := bigQuerySchema(testTable)
	require.Len(t, schema, len(testTable.Columns))

	assert.Equal(t, bigquery.TimestampFieldType, schema[0].Type)
	assert.Equal(t, bigquery.DateFieldType, schema[1].Type)
	assert.Equal(t, bigquery.IntegerFieldType, schema[3].Type)
	assert.Equal(t, bigquery.FloatFieldType, schema[4].Type)
	for _, f := range schema {
		assert.False(t, f.Required, "field %s must stay NULLABLE", f.Name)
	}
}

func TestMissingColumns(t *testing.T) {
	existing := bigquery.Schema{
		{Name: "sync_timestamp", Type: bigquery.TimestampFieldType},
		{Name: "DATE", Type: bigquery.DateFieldType},
		{Name: "account_id", Type: bigquery.StringFieldType},
	}
	assert.Equal(t, []string{"impressions", "spend"}, missingColumns(existing, testTable))
	assert.Empty(t, missingColumns(bigQuerySchema(testTable), testTable))
}

func TestReplaceScript(t *testing.T) {
	script := replaceScript("`p.d.test_performance`", "`p.d.test_performance_staging_ab12`", testTable)

	assert.True(t, strings.HasPrefix(script, "BEGIN TRANSACTION;"))
	assert.True(t, strings.HasSuffix(script, "COMMIT TRANSACTION;"))
	assert.Contains(t, script, "DELETE FROM `p.d.test_performance`\nWHERE `account_id` = @account_id\n  AND `date` BETWEEN @start_date AND @end_date;")
	assert.Contains(t, script, "INSERT INTO `p.d.test_performance` (`sync_timestamp`, `date`, `account_id`, `impressions`, `spend`)")
	assert.Contains(t, script, "SELECT `sync_timestamp`, `date`, `account_id`, `impressions`, `spend` FROM `p.d.test_performance_staging_ab12`;")
	assert.Less(t, strings.Index(script, "DELETE"), strings.Index(script, "INSERT"))
}

func TestStagingName(t *testing.T) {
	a, b := stagingName("meta_ads_performance"), stagingName("meta_ads_performance")
	assert.True(t, strings.HasPrefix(a, "meta_ads_performance_staging_"))
	assert.Len(t, a, len("meta_ads_performance_staging_")+12)
	assert.NotEqual(t, a, b)
}

func TestAllTables_ArePartitionedByDate(t *testing.T) {
	for _, table := range AllTables() {
		t.Run(table.Name, func(t *testing.T) {
			assert.Equal(t, "date", table.PartitionField)
			col, ok := table.Column(table.AccountField)
			require.True(t, ok, "account field must be a column")
			assert.Equal(t, String, col.Type)
			_, ok = table.Column("sync_timestamp")
			assert.True(t, ok)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "redshift"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown warehouse driver")
}
