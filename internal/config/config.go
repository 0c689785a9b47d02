// Package config parses vendor, warehouse, sync and scheduler settings from
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

type Warehouse struct {
	Driver          string `env:"WAREHOUSE_DRIVER" envDefault:"bigquery"`
	ProjectID       string `env:"BQ_PROJECT_ID"`
	DatasetID       string `env:"BQ_DATASET_ID" envDefault:"ads_data"`
	Location        string `env:"BQ_LOCATION"`
	CredentialsJSON string `env:"GOOGLE_APPLICATION_CREDENTIALS_JSON"`
	SQLitePath      string `env:"WAREHOUSE_SQLITE_PATH" envDefault:"ads_warehouse.db"`
}

func (w Warehouse) Validate() error {
	switch w.Driver {
	case "bigquery":
		if w.ProjectID == "" {
			return errors.New("BQ_PROJECT_ID is required for the bigquery warehouse")
		}
	case "sqlite":
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be bigquery or sqlite, got %q", w.Driver)
	}
	return nil
}

type GoogleAds struct {
	DeveloperToken  string `env:"GOOGLE_ADS_DEVELOPER_TOKEN"`
	LoginCustomerID string `env:"GOOGLE_ADS_LOGIN_CUSTOMER_ID"`
	ClientID        string `env:"GOOGLE_ADS_CLIENT_ID"`
	ClientSecret    string `env:"GOOGLE_ADS_CLIENT_SECRET"`
	RefreshToken    string `env:"GOOGLE_ADS_REFRESH_TOKEN"`
	APIVersion      string `env:"GOOGLE_ADS_API_VERSION" envDefault:"v21"`
	BaseURL         string `env:"GOOGLE_ADS_BASE_URL" envDefault:"https://googleads.googleapis.com"`
}

// Enabled reports whether enough credentials are present to call the API
func (g GoogleAds) Enabled() bool {
	return g.DeveloperToken != "" && g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

type Meta struct {
	AppID        string `env:"META_APP_ID"`
	AppSecret    string `env:"META_APP_SECRET"`
	AccessToken  string `env:"META_ACCESS_TOKEN"`
	APIVersion   string `env:"META_API_VERSION" envDefault:"v18.0"`
	RefreshDays  int    `env:"META_TOKEN_REFRESH_DAYS" envDefault:"30"`
	GraphBaseURL string `env:"META_GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
}

// CanManageToken reports whether the app credentials needed for debug_token
// and token exchange are present
func (m Meta) CanManageToken() bool {
	return m.AppID != "" && m.AppSecret != ""
}

type TikTok struct {
	AccessToken string `env:"TIKTOK_ACCESS_TOKEN"`
	BaseURL     string `env:"TIKTOK_BASE_URL" envDefault:"https://business-api.tiktok.com/open_api/v1.3"`
}

func (t TikTok) Enabled() bool { return t.AccessToken != "" }

const (
	GA4ModeExport  = "export"
	GA4ModeDataAPI = "data_api"
)

type GA4 struct {
	Mode         string `env:"GA4_MODE" envDefault:"export"`
	ClientID     string `env:"GA4_CLIENT_ID"`
	ClientSecret string `env:"GA4_CLIENT_SECRET"`
	RefreshToken string `env:"GA4_REFRESH_TOKEN"`
	BaseURL      string `env:"GA4_DATA_API_BASE_URL" envDefault:"https://analyticsdata.googleapis.com/v1beta"`
}

func (g GA4) Validate() error {
	switch g.Mode {
	case GA4ModeExport:
		return nil
	case GA4ModeDataAPI:
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return errors.New("GA4_CLIENT_ID, GA4_CLIENT_SECRET and GA4_REFRESH_TOKEN are required for GA4_MODE=data_api")
		}
		return nil
	default:
		return fmt.Errorf("GA4_MODE must be export or data_api, got %q", g.Mode)
	}
}

const (
	WriteModeAppend  = "append"
	WriteModeReplace = "replace"
)

type Sync struct {
	WriteMode         string  `env:"SYNC_WRITE_MODE" envDefault:"append"`
	ClientConcurrency int     `env:"SYNC_CLIENT_CONCURRENCY" envDefault:"1"`
	DaysBack          int     `env:"SYNC_DAYS_BACK" envDefault:"30"`
	GA4DaysBack       int     `env:"GA4_DAYS_BACK" envDefault:"7"`
	VendorRPS         float64 `env:"SYNC_VENDOR_RPS" envDefault:"5"`
}

func (s Sync) Validate() error {
	if s.WriteMode != WriteModeAppend && s.WriteMode != WriteModeReplace {
		return fmt.Errorf("SYNC_WRITE_MODE must be append or replace, got %q", s.WriteMode)
	}
	if s.ClientConcurrency < 1 {
		return errors.New("SYNC_CLIENT_CONCURRENCY must be at least 1")
	}
	if s.DaysBack < 1 || s.GA4DaysBack < 1 {
		return errors.New("SYNC_DAYS_BACK and GA4_DAYS_BACK must be at least 1")
	}
	return nil
}

type Scheduler struct {
	DailyCron          string `env:"SYNC_DAILY_CRON" envDefault:"0 8 * * *"`
	Timezone           string `env:"SYNC_TIMEZONE" envDefault:"UTC"`
	EnableFrequentSync bool   `env:"ENABLE_FREQUENT_SYNC" envDefault:"false"`
	FrequentInterval   string `env:"SYNC_FREQUENT_INTERVAL" envDefault:"6h"`
	IncludeGA4         bool   `env:"SYNC_INCLUDE_GA4" envDefault:"false"`
	MetaTokenCron      string `env:"META_TOKEN_CRON" envDefault:"0 7 * * *"`
	Disabled           bool   `env:"SCHEDULER_DISABLED" envDefault:"false"`
}

type Slack struct {
	WebhookURL string `env:"SLACK_WEBHOOK_URL"`
	Channel    string `env:"SLACK_CHANNEL"`
}

// Email alerts go out as Loops transactional emails
type Email struct {
	LoopsAPIKey     string   `env:"LOOPS_API_KEY"`
	TransactionalID string   `env:"LOOPS_ALERT_TRANSACTIONAL_ID"`
	Recipients      []string `env:"ALERT_EMAILS" envSeparator:","`
}

func (e Email) Enabled() bool {
	return e.LoopsAPIKey != "" && e.TransactionalID != "" && len(e.Recipients) > 0
}

type Auth struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	JWKSURL   string `env:"AUTH_JWKS_URL"`
	Issuer    string `env:"AUTH_ISSUER"`
	Audience  string `env:"AUTH_AUDIENCE"`
}

func (a Auth) Enabled() bool {
	return a.JWTSecret != "" || a.JWKSURL != ""
}

// Config groups every environment-driven setting used by the sync service
type Config struct {
	Warehouse Warehouse
	GoogleAds GoogleAds
	Meta      Meta
	TikTok    TikTok
	GA4       GA4
	Sync      Sync
	Scheduler Scheduler
	Slack     Slack
	Email     Email
	Auth      Auth
}

// Load parses and validates the full configuration
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Sync.WriteMode = strings.ToLower(strings.TrimSpace(cfg.Sync.WriteMode))
	cfg.GA4.Mode = strings.ToLower(strings.TrimSpace(cfg.GA4.Mode))
	cfg.Warehouse.Driver = strings.ToLower(strings.TrimSpace(cfg.Warehouse.Driver))

	if err := errors.Join(cfg.Warehouse.Validate(), cfg.GA4.Validate(), cfg.Sync.Validate()); err != nil {
		return nil, err
	}
	return &cfg, nil
}
