package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BQ_PROJECT_ID", "acme-analytics")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bigquery", cfg.Warehouse.Driver)
	assert.Equal(t, "ads_data", cfg.Warehouse.DatasetID)
	assert.Equal(t, "v18.0", cfg.Meta.APIVersion)
	assert.Equal(t, 30, cfg.Meta.RefreshDays)
	assert.Equal(t, GA4ModeExport, cfg.GA4.Mode)
	assert.Equal(t, WriteModeAppend, cfg.Sync.WriteMode)
	assert.Equal(t, 1, cfg.Sync.ClientConcurrency)
	assert.Equal(t, 30, cfg.Sync.DaysBack)
	assert.Equal(t, 7, cfg.Sync.GA4DaysBack)
	assert.Equal(t, "0 8 * * *", cfg.Scheduler.DailyCron)
	assert.Equal(t, "0 7 * * *", cfg.Scheduler.MetaTokenCron)
	assert.False(t, cfg.Scheduler.EnableFrequentSync)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WAREHOUSE_DRIVER", "SQLite")
	t.Setenv("SYNC_WRITE_MODE", "replace")
	t.Setenv("SYNC_CLIENT_CONCURRENCY", "4")
	t.Setenv("GA4_MODE", "data_api")
	t.Setenv("GA4_CLIENT_ID", "id")
	t.Setenv("GA4_CLIENT_SECRET", "secret")
	t.Setenv("GA4_REFRESH_TOKEN", "refresh")
	t.Setenv("ENABLE_FREQUENT_SYNC", "true")
	t.Setenv("ALERT_EMAILS", "ops@example.com,marketing@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Warehouse.Driver)
	assert.Equal(t, WriteModeReplace, cfg.Sync.WriteMode)
	assert.Equal(t, 4, cfg.Sync.ClientConcurrency)
	assert.Equal(t, GA4ModeDataAPI, cfg.GA4.Mode)
	assert.True(t, cfg.Scheduler.EnableFrequentSync)
	assert.Equal(t, []string{"ops@example.com", "marketing@example.com"}, cfg.Email.Recipients)
	assert.False(t, cfg.Email.Enabled())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bigquery_without_project",
			env:     map[string]string{"WAREHOUSE_DRIVER": "bigquery", "BQ_PROJECT_ID": ""},
			wantErr: "BQ_PROJECT_ID is required",
		},
		{
			name:    "unknown_driver",
			env:     map[string]string{"WAREHOUSE_DRIVER": "redshift"},
			wantErr: "WAREHOUSE_DRIVER must be",
		},
		{
			name:    "bad_write_mode",
			env:     map[string]string{"WAREHOUSE_DRIVER": "sqlite", "SYNC_WRITE_MODE": "truncate"},
			wantErr: "SYNC_WRITE_MODE must be",
		},
		{
			name:    "data_api_without_credentials",
			env:     map[string]string{"WAREHOUSE_DRIVER": "sqlite", "GA4_MODE": "data_api"},
			wantErr: "GA4_REFRESH_TOKEN are required",
		},
		{
			name:    "zero_concurrency",
			env:     map[string]string{"WAREHOUSE_DRIVER": "sqlite", "SYNC_CLIENT_CONCURRENCY": "0"},
			wantErr: "SYNC_CLIENT_CONCURRENCY",
		},
		{
			name:    "unparseable_int",
			env:     map[string]string{"SYNC_DAYS_BACK": "thirty"},
			wantErr: "parse env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnabledChecks(t *testing.T) {
	assert.True(t, GoogleAds{DeveloperToken: "d", ClientID: "c", ClientSecret: "s", RefreshToken: "r"}.Enabled())
	assert.False(t, GoogleAds{DeveloperToken: "d"}.Enabled())
	assert.True(t, Meta{AppID: "1", AppSecret: "s"}.CanManageToken())
	assert.False(t, Meta{AppID: "1"}.CanManageToken())
	assert.True(t, TikTok{AccessToken: "t"}.Enabled())
	assert.True(t, Auth{JWKSURL: "https://example.test/jwks"}.Enabled())
	assert.True(t, Email{LoopsAPIKey: "k", TransactionalID: "t", Recipients: []string{"a@example.com"}}.Enabled())
	assert.False(t, Email{LoopsAPIKey: "k", TransactionalID: "t"}.Enabled())
}
