// Package warehouse writes flattened vendor report rows into date-partitioned
// analytic tables. BigQuery is the production backend; SQLite backs local runs
// and tests.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned when a backend cannot serve an operation
var ErrUnsupported = errors.New("operation not supported by warehouse backend")

// ColumnType is the warehouse type of a column
type ColumnType string

const (
	String    ColumnType = "STRING"
	Integer   ColumnType = "INTEGER"
	Float     ColumnType = "FLOAT"
	Date      ColumnType = "DATE"
	Timestamp ColumnType = "TIMESTAMP"
)

// Column describes one field of a table
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a destination table.
// PartitionField is the DATE column used for day partitioning; AccountField is
// the column identifying the advertiser account a row belongs to.
type Table struct {
	Name           string
	Columns        []Column
	PartitionField string
	AccountField   string
}

// Column returns the column with the given name
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Row is one flattened record keyed by column name
type Row map[string]any

// Warehouse is the destination for sync output
type Warehouse interface {
	// EnsureTable creates the table when it does not exist
	EnsureTable(ctx context.Context, table Table) error
	// Append writes rows as a single load and returns the number written
	Append(ctx context.Context, table Table, rows []Row) (int, error)
	// ReplaceRange swaps one account's rows whose partition date is in
	// [from, to] for rows. The delete and the load commit together; on error
	// the existing rows are untouched.
	ReplaceRange(ctx context.Context, table Table, accountID string, from, to time.Time, rows []Row) (int, error)
	// Driver names the backend
	Driver() string
	Close() error
}

func requireRangeFields(table Table) error {
	if table.AccountField == "" || table.PartitionField == "" {
		return fmt.Errorf("table %s: %w", table.Name, ErrUnsupported)
	}
	return nil
}

// DateLayout is the on-wire format for DATE values
const DateLayout = "2006-01-02"

// TimestampLayout is the on-wire format for TIMESTAMP values
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Validate checks a row against the table definition before it is loaded
func Validate(table Table, row Row) error {
	for name := range row {
		if _, ok := table.Column(name); !ok {
			return fmt.Errorf("table %s has no column %q", table.Name, name)
		}
	}
	if table.PartitionField != "" {
		v, ok := row[table.PartitionField]
		if !ok || v == nil {
			return fmt.Errorf("table %s: row missing partition field %q", table.Name, table.PartitionField)
		}
	}
	return nil
}

// encodeValue converts a Go value into the representation stored for the
// column type. Dates and timestamps become strings in UTC.
func encodeValue(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case Date:
		switch t := v.(type) {
		case time.Time:
			return t.Format(DateLayout), nil
		case string:
			if _, err := time.Parse(DateLayout, t); err != nil {
				return nil, fmt.Errorf("column %s: invalid date %q", col.Name, t)
			}
			return t, nil
		}
	case Timestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(TimestampLayout), nil
		case string:
			return t, nil
		}
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		}
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case String:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
	}

	return nil, fmt.Errorf("column %s: cannot store %T as %s", col.Name, v, col.Type)
}
