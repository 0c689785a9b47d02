// Package meta talks to the Meta Graph API: ad insights for the sync job and
// token inspection and exchange for the token manager.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/apiclient"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/getsentry/sentry-go"
)

// maxPages guards against a paging cursor that never ends
const maxPages = 500

var insightFields = []string{
	"campaign_id",
	"campaign_name",
	"adset_id",
	"adset_name",
	"ad_id",
	"ad_name",
	"impressions",
	"clicks",
	"spend",
	"actions",
	"action_values",
	"ctr",
	"cpc",
	"cpm",
}

// Options configures a Client
type Options struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client is a Graph API client
type Client struct {
	api       *apiclient.Client
	baseURL   string
	appID     string
	appSecret string
}

func New(cfg config.Meta, opts Options) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = "v18.0"
	}
	base := cfg.GraphBaseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}

	return &Client{
		api: apiclient.New(apiclient.Config{
			Vendor:            "meta_ads",
			HTTPClient:        opts.HTTPClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             2,
		}),
		baseURL:   strings.TrimRight(base, "/") + "/" + version,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
	}
}

// AppID returns the configured Meta app id
func (c *Client) AppID() string {
	return c.appID
}

// NormaliseAccountID strips the act_ prefix from an ad account id
func NormaliseAccountID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "act_")
}

// Action is one entry of the actions or action_values arrays
type Action struct {
	ActionType string           `json:"action_type"`
	Value      apiclient.Number `json:"value"`
}

// Insight is one ad-level, one-day insights record
type Insight struct {
	DateStart    string           `json:"date_start"`
	DateStop     string           `json:"date_stop"`
	CampaignID   string           `json:"campaign_id"`
	CampaignName string           `json:"campaign_name"`
	AdsetID      string           `json:"adset_id"`
	AdsetName    string           `json:"adset_name"`
	AdID         string           `json:"ad_id"`
	AdName       string           `json:"ad_name"`
	Impressions  apiclient.Number `json:"impressions"`
	Clicks       apiclient.Number `json:"clicks"`
	Spend        apiclient.Number `json:"spend"`
	Actions      []Action         `json:"actions"`
	ActionValues []Action         `json:"action_values"`
	CTR          apiclient.Number `json:"ctr"`
	CPC          apiclient.Number `json:"cpc"`
	CPM          apiclient.Number `json:"cpm"`
}

type insightsPage struct {
	Data   []Insight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Insights returns daily ad-level insights for the account between since and
// until inclusive, following paging.next until it is absent.
func (c *Client) Insights(ctx context.Context, accountID, token string, since, until time.Time) ([]Insight, error) {
	span := sentry.StartSpan(ctx, "meta.insights")
	defer span.Finish()
	span.SetTag("account_id", accountID)

	timeRange, _ := json.Marshal(map[string]string{
		"since": since.Format("2006-01-02"),
		"until": until.Format("2006-01-02"),
	})

	params := url.Values{}
	params.Set("access_token", token)
	params.Set("fields", strings.Join(insightFields, ","))
	params.Set("level", "ad")
	params.Set("time_range", string(timeRange))
	params.Set("time_increment", "1")
	params.Set("limit", "500")

	next := fmt.Sprintf("%s/act_%s/insights?%s", c.baseURL, NormaliseAccountID(accountID), params.Encode())

	var all []Insight
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("meta_ads: insights paging exceeded %d pages", maxPages)
		}

		var resp insightsPage
		if err := c.api.GetJSON(span.Context(), next, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		next = resp.Paging.Next
	}

	return all, nil
}

// TokenInfo is the debug_token view of an access token
type TokenInfo struct {
	Valid     bool
	ExpiresAt *time.Time
	Scopes    []string
	AppID     string
	Error     string
}

// DebugToken inspects token. The app access token is used for the call when
// app credentials are configured; otherwise the token inspects itself.
func (c *Client) DebugToken(ctx context.Context, token string) (*TokenInfo, error) {
	inspector := token
	if c.appID != "" && c.appSecret != "" {
		inspector = c.appID + "|" + c.appSecret
	}

	params := url.Values{}
	params.Set("input_token", token)
	params.Set("access_token", inspector)

	var resp struct {
		Data struct {
			IsValid   bool     `json:"is_valid"`
			AppID     string   `json:"app_id"`
			ExpiresAt int64    `json:"expires_at"`
			Scopes    []string `json:"scopes"`
			Error     struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"data"`
	}
	if err := c.api.GetJSON(ctx, c.baseURL+"/debug_token?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	info := &TokenInfo{
		Valid:  resp.Data.IsValid,
		Scopes: resp.Data.Scopes,
		AppID:  resp.Data.AppID,
	}
	if !info.Valid {
		info.Error = resp.Data.Error.Message
		if info.Error == "" {
			info.Error = "Token invalid"
		}
		return info, nil
	}
	if resp.Data.ExpiresAt > 0 {
		t := time.Unix(resp.Data.ExpiresAt, 0).UTC()
		info.ExpiresAt = &t
	}
	return info, nil
}

// ExchangedToken is a long-lived token returned by fb_exchange_token
type ExchangedToken struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// ExchangeToken trades token for a long-lived token
func (c *Client) ExchangeToken(ctx context.Context, token string) (*ExchangedToken, error) {
	if c.appID == "" || c.appSecret == "" {
		return nil, errors.New("META_APP_ID and META_APP_SECRET are required to exchange tokens")
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", c.appID)
	params.Set("client_secret", c.appSecret)
	params.Set("fb_exchange_token", token)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.api.GetJSON(ctx, c.baseURL+"/oauth/access_token?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("meta_ads: token exchange returned no access token")
	}

	return &ExchangedToken{
		AccessToken: resp.AccessToken,
		ExpiresIn:   time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}
