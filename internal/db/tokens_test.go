package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToken(t *testing.T) {
	database, mock := newMockDB(t)
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO platform_tokens").
		WithArgs("meta_ads", "EAAB-new", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := database.SaveToken(context.Background(), &PlatformToken{
		Platform:    "meta_ads",
		AccessToken: "EAAB-new",
		ExpiresAt:   &expires,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetToken(t *testing.T) {
	t.Run("never_expiring", func(t *testing.T) {
		database, mock := newMockDB(t)

		mock.ExpectQuery("FROM platform_tokens").
			WithArgs("meta_ads").
			WillReturnRows(sqlmock.NewRows([]string{"platform", "access_token", "expires_at", "updated_at"}).
				AddRow("meta_ads", "EAAB", nil, time.Now()))

		token, err := database.GetToken(context.Background(), "meta_ads")
		require.NoError(t, err)
		assert.Equal(t, "EAAB", token.AccessToken)
		assert.Nil(t, token.ExpiresAt)
	})

	t.Run("missing", func(t *testing.T) {
		database, mock := newMockDB(t)

		mock.ExpectQuery("FROM platform_tokens").
			WithArgs("meta_ads").
			WillReturnError(sql.ErrNoRows)

		_, err := database.GetToken(context.Background(), "meta_ads")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}
