package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite is a file-backed warehouse for local development and tests
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the database at path. Use ":memory:" for an
// in-process store.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "ads_warehouse.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite warehouse: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil && path != ":memory:" {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite warehouse: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened SQLite warehouse")
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Driver() string { return "sqlite" }

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureTable(ctx context.Context, table Table) error {
	cols := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		def := fmt.Sprintf("%s %s", quoteIdent(c.Name), sqliteType(c.Type))
		if c.Name == table.PartitionField {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table.Name), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}

	if table.PartitionField != "" {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("idx_"+table.Name+"_"+table.PartitionField),
			quoteIdent(table.Name), quoteIdent(table.PartitionField))
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to index table %s: %w", table.Name, err)
		}
	}
	return nil
}

// Append inserts every row inside one transaction
func (s *SQLite) Append(ctx context.Context, table Table, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRows(ctx, tx, table, rows); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert into %s: %w", table.Name, err)
	}
	return len(rows), nil
}

// ReplaceRange deletes the account's window and inserts rows in one transaction
func (s *SQLite) ReplaceRange(ctx context.Context, table Table, accountID string, from, to time.Time, rows []Row) (int, error) {
	if err := requireRangeFields(table); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s BETWEEN ? AND ?",
		quoteIdent(table.Name), quoteIdent(table.AccountField), quoteIdent(table.PartitionField))
	res, err := tx.ExecContext(ctx, stmt, accountID, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table.Name, err)
	}
	deleted, _ := res.RowsAffected()

	if err := insertRows(ctx, tx, table, rows); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit replace into %s: %w", table.Name, err)
	}

	log.Debug().
		Str("table", table.Name).
		Str("account_id", accountID).
		Int64("deleted", deleted).
		Int("inserted", len(rows)).
		Msg("Replaced account window")
	return len(rows), nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table.Name), strings.Join(names, ", "), strings.Join(marks, ", "))

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table.Name, err)
	}
	defer prepared.Close()

	for i, row := range rows {
		if err := Validate(table, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		args := make([]any, len(table.Columns))
		for j, col := range table.Columns {
			v, err := encodeValue(col, row[col.Name])
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			args[j] = v
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, table.Name, err)
		}
	}
	return nil
}

// DB exposes the handle for ad-hoc reads
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func sqliteType(t ColumnType) string {
	switch t {
	case Integer:
		return "INTEGER"
	case Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
