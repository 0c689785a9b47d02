package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents the PostgreSQL connection holding the client registry
type DB struct {
	client *sql.DB
	config *Config
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host             string        // Database host
	Port             string        // Database port
	User             string        // Database user
	Password         string        // Database password
	Database         string        // Database name
	SSLMode          string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns     int           // Maximum number of idle connections
	MaxOpenConns     int           // Maximum number of open connections
	MaxLifetime      time.Duration // Maximum lifetime of a connection
	StatementTimeout int           // statement_timeout in milliseconds
	ApplicationName  string        // application_name reported to the server
	DatabaseURL      string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	var params []sessionParam
	if c.StatementTimeout > 0 {
		params = append(params, sessionParam{key: "statement_timeout", value: strconv.Itoa(c.StatementTimeout)})
	}
	params = append(params, sessionParam{key: "application_name", value: c.ApplicationName})

	if c.DatabaseURL != "" {
		return withSessionParams(c.DatabaseURL, params...)
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
	return withSessionParams(dsn, params...)
}

func (c *Config) applyDefaults() {
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 15
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 20 * time.Minute
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30000
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "ad-metrics-sync"
	}
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		if config.Host == "" {
			return nil, fmt.Errorf("database host is required")
		}
		if config.Port == "" {
			return nil, fmt.Errorf("database port is required")
		}
		if config.User == "" {
			return nil, fmt.Errorf("database user is required")
		}
		if config.Database == "" {
			return nil, fmt.Errorf("database name is required")
		}
	}

	config.applyDefaults()

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PingContext(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config}, nil
}

// NewFromSQL wraps an existing connection. Used by tests and tools that manage
// their own *sql.DB.
func NewFromSQL(client *sql.DB) *DB {
	return &DB{client: client, config: &Config{}}
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return New(&Config{DatabaseURL: url})
	}

	config := &Config{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     os.Getenv("POSTGRES_PORT"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DB"),
		SSLMode:  os.Getenv("POSTGRES_SSL_MODE"),
	}

	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "ad_metrics"
	}
	if config.SSLMode == "" && config.Host == "localhost" {
		config.SSLMode = "disable"
	}

	return New(config)
}

// setupSchema creates the registry tables in PostgreSQL
func setupSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			client_id TEXT PRIMARY KEY,
			client_name TEXT NOT NULL,
			industry TEXT NOT NULL,
			specialist_email TEXT,
			google_ads_id TEXT,
			meta_account_id TEXT,
			tiktok_advertiser_id TEXT,
			ga4_property_id TEXT,
			gsc_property TEXT,
			merchant_center_id TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create clients table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id UUID PRIMARY KEY,
			platform TEXT NOT NULL,
			trigger TEXT NOT NULL,
			status TEXT NOT NULL,
			total_clients INTEGER NOT NULL DEFAULT 0,
			successful INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			total_rows BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_runs table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_sync_runs_platform_started
		ON sync_runs(platform, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_runs index: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS platform_tokens (
			platform TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create platform_tokens table: %w", err)
	}

	log.Debug().Msg("Registry schema ready")
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// TestConnection runs a trivial query to prove the database answers.
func (db *DB) TestConnection(ctx context.Context) (string, error) {
	var status string
	if err := db.client.QueryRowContext(ctx, `SELECT 'ok'`).Scan(&status); err != nil {
		return "", fmt.Errorf("failed to query database: %w", err)
	}
	return status, nil
}
