package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTokenNotFound is returned when no token is stored for a platform
var ErrTokenNotFound = errors.New("token not found")

// PlatformToken is a persisted vendor access token
type PlatformToken struct {
	Platform    string
	AccessToken string
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

// SaveToken upserts the access token for a platform
func (db *DB) SaveToken(ctx context.Context, token *PlatformToken) error {
	token.UpdatedAt = time.Now().UTC()

	var expiresAt sql.NullTime
	if token.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *token.ExpiresAt, Valid: true}
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO platform_tokens (platform, access_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`, token.Platform, token.AccessToken, expiresAt, token.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("platform", token.Platform).Msg("Failed to save platform token")
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// GetToken loads the stored token for a platform
func (db *DB) GetToken(ctx context.Context, platform string) (*PlatformToken, error) {
	token := &PlatformToken{}
	var expiresAt sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT platform, access_token, expires_at, updated_at
		FROM platform_tokens
		WHERE platform = $1
	`, platform).Scan(&token.Platform, &token.AccessToken, &expiresAt, &token.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		token.ExpiresAt = &t
	}

	return token, nil
}
