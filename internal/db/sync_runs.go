package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sync run statuses
const (
	SyncRunRunning   = "running"
	SyncRunCompleted = "completed"
	SyncRunPartial   = "partial"
	SyncRunFailed    = "failed"
)

// SyncRun records one platform batch execution
type SyncRun struct {
	ID           string     `json:"id"`
	Platform     string     `json:"platform"`
	Trigger      string     `json:"trigger"`
	Status       string     `json:"status"`
	TotalClients int        `json:"total_clients"`
	Successful   int        `json:"successful"`
	Failed       int        `json:"failed"`
	TotalRows    int64      `json:"total_rows"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// CreateSyncRun inserts a run in the running state
func (db *DB) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = SyncRunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO sync_runs (id, platform, trigger, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.Platform, run.Trigger, run.Status, run.StartedAt)
	if err != nil {
		log.Error().Err(err).Str("platform", run.Platform).Msg("Failed to create sync run")
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	return nil
}

// CompleteSyncRun stores the final tallies of a run
func (db *DB) CompleteSyncRun(ctx context.Context, run *SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = $2, total_clients = $3, successful = $4, failed = $5,
		    total_rows = $6, error = $7, finished_at = $8
		WHERE id = $1
	`, run.ID, run.Status, run.TotalClients, run.Successful, run.Failed,
		run.TotalRows, errText, *run.FinishedAt)
	if err != nil {
		log.Error().Err(err).Str("sync_run_id", run.ID).Msg("Failed to complete sync run")
		return fmt.Errorf("failed to complete sync run: %w", err)
	}

	return nil
}

// ListSyncRuns returns the most recent runs, optionally for one platform
func (db *DB) ListSyncRuns(ctx context.Context, platform string, limit int) ([]*SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, platform, trigger, status, total_clients, successful, failed,
		       total_rows, error, started_at, finished_at
		FROM sync_runs
	`
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = $1 ORDER BY started_at DESC LIMIT $2`
		args = append(args, platform, limit)
	} else {
		query += ` ORDER BY started_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run := &SyncRun{}
		var errText sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.Platform, &run.Trigger, &run.Status, &run.TotalClients,
			&run.Successful, &run.Failed, &run.TotalRows, &errText,
			&run.StartedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Error = errText.String
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
