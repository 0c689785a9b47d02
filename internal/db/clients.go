package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClientNotFound is returned when no client row matches the given id
	ErrClientNotFound = errors.New("client not found")
	// ErrUnknownAccountColumn is returned for a platform column outside the registry schema
	ErrUnknownAccountColumn = errors.New("unknown account column")
)

// Platform account columns on the clients table
const (
	ColumnGoogleAdsID        = "google_ads_id"
	ColumnMetaAccountID      = "meta_account_id"
	ColumnTikTokAdvertiserID = "tiktok_advertiser_id"
	ColumnGA4PropertyID      = "ga4_property_id"
)

var accountColumns = map[string]struct{}{
	ColumnGoogleAdsID:        {},
	ColumnMetaAccountID:      {},
	ColumnTikTokAdvertiserID: {},
	ColumnGA4PropertyID:      {},
}

// Client is one advertiser in the registry
type Client struct {
	ClientID           string    `json:"client_id"`
	ClientName         string    `json:"client_name"`
	Industry           string    `json:"industry"`
	SpecialistEmail    *string   `json:"specialist_email,omitempty"`
	GoogleAdsID        *string   `json:"google_ads_id,omitempty"`
	MetaAccountID      *string   `json:"meta_account_id,omitempty"`
	TikTokAdvertiserID *string   `json:"tiktok_advertiser_id,omitempty"`
	GA4PropertyID      *string   `json:"ga4_property_id,omitempty"`
	GSCProperty        *string   `json:"gsc_property,omitempty"`
	MerchantCenterID   *string   `json:"merchant_center_id,omitempty"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AccountID returns the client's identifier for the given platform column, or
// an empty string when it has none.
func (c *Client) AccountID(column string) string {
	var v *string
	switch column {
	case ColumnGoogleAdsID:
		v = c.GoogleAdsID
	case ColumnMetaAccountID:
		v = c.MetaAccountID
	case ColumnTikTokAdvertiserID:
		v = c.TikTokAdvertiserID
	case ColumnGA4PropertyID:
		v = c.GA4PropertyID
	}
	if v == nil {
		return ""
	}
	return *v
}

// NewClientID returns the short registry id: the first 8 characters of a UUIDv4
func NewClientID() string {
	return uuid.New().String()[:8]
}

const clientColumns = `client_id, client_name, industry, specialist_email, google_ads_id,
	meta_account_id, tiktok_advertiser_id, ga4_property_id, gsc_property,
	merchant_center_id, active, created_at, updated_at`

// InsertClient stores a new client and returns its generated id
func (db *DB) InsertClient(ctx context.Context, client *Client) (string, error) {
	if client.ClientID == "" {
		client.ClientID = NewClientID()
	}
	now := time.Now().UTC()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	query := `
		INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := db.client.ExecContext(ctx, query,
		client.ClientID, client.ClientName, client.Industry,
		nullable(client.SpecialistEmail), nullable(client.GoogleAdsID),
		nullable(client.MetaAccountID), nullable(client.TikTokAdvertiserID),
		nullable(client.GA4PropertyID), nullable(client.GSCProperty),
		nullable(client.MerchantCenterID), client.Active,
		client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("client_name", client.ClientName).Msg("Failed to insert client")
		return "", fmt.Errorf("failed to insert client: %w", err)
	}

	return client.ClientID, nil
}

// GetClient retrieves a client by id
func (db *DB) GetClient(ctx context.Context, clientID string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE client_id = $1`

	client, err := scanClient(db.client.QueryRowContext(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		log.Error().Err(err).Str("client_id", clientID).Msg("Failed to get client")
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return client, nil
}

// ListClients returns registry rows ordered by name
func (db *DB) ListClients(ctx context.Context, activeOnly bool) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY client_name`

	return db.queryClients(ctx, query)
}

// ListActiveClientsWithAccount returns active clients that hold a non-empty
// identifier in the given platform column
func (db *DB) ListActiveClientsWithAccount(ctx context.Context, column string) ([]*Client, error) {
	if _, ok := accountColumns[column]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccountColumn, column)
	}

	query := `SELECT ` + clientColumns + ` FROM clients
		WHERE active = TRUE AND ` + column + ` IS NOT NULL AND ` + column + ` <> ''
		ORDER BY client_name`

	return db.queryClients(ctx, query)
}

// SetClientActive enables or disables a client for scheduled syncs
func (db *DB) SetClientActive(ctx context.Context, clientID string, active bool) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE clients SET active = $2, updated_at = $3 WHERE client_id = $1
	`, clientID, active, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("Failed to update client")
		return fmt.Errorf("failed to update client: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrClientNotFound
	}

	return nil
}

func (db *DB) queryClients(ctx context.Context, query string, args ...any) ([]*Client, error) {
	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return clients, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	client := &Client{}
	var email, googleAds, meta, tiktok, ga4, gsc, merchant sql.NullString

	err := row.Scan(
		&client.ClientID, &client.ClientName, &client.Industry,
		&email, &googleAds, &meta, &tiktok, &ga4, &gsc, &merchant,
		&client.Active, &client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	client.SpecialistEmail = fromNull(email)
	client.GoogleAdsID = fromNull(googleAds)
	client.MetaAccountID = fromNull(meta)
	client.TikTokAdvertiserID = fromNull(tiktok)
	client.GA4PropertyID = fromNull(ga4)
	client.GSCProperty = fromNull(gsc)
	client.MerchantCenterID = fromNull(merchant)

	return client, nil
}

// nullable maps nil and blank strings to SQL NULL
func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*s)
	return sql.NullString{String: v, Valid: v != ""}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
