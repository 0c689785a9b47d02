// Package googleads reads ad group performance through the Google Ads REST API.
package googleads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Harvey-AU/ad-metrics-sync/internal/apiclient"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/getsentry/sentry-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const adwordsScope = "https://www.googleapis.com/auth/adwords"

// Options configures a Client
type Options struct {
	// HTTPClient overrides the OAuth2 client built from the refresh token
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client calls the Google Ads API on behalf of the manager account
type Client struct {
	api             *apiclient.Client
	baseURL         string
	version         string
	developerToken  string
	loginCustomerID string
}

// New creates a Google Ads client. Requests are authorised with an OAuth2
// refresh token unless opts.HTTPClient is set.
func New(ctx context.Context, cfg config.GoogleAds, opts Options) (*Client, error) {
	if cfg.DeveloperToken == "" {
		return nil, errors.New("GOOGLE_ADS_DEVELOPER_TOKEN is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, errors.New("google ads OAuth credentials are incomplete")
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{adwordsScope},
		}
		ts := oauth2.ReuseTokenSource(nil, oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
		httpClient = oauth2.NewClient(ctx, ts)
	}

	return &Client{
		api: apiclient.New(apiclient.Config{
			Vendor:            "google_ads",
			HTTPClient:        httpClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             2,
			DecodeError:       decodeError,
		}),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		version:         cfg.APIVersion,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: CleanCustomerID(cfg.LoginCustomerID),
	}, nil
}

// CleanCustomerID strips the dashes from a 123-456-7890 style id
func CleanCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		h.Set("login-customer-id", c.loginCustomerID)
	}
	return h
}

// GoogleAdsRow is one result row of a searchStream response. int64 fields are
// JSON strings in the REST encoding.
type GoogleAdsRow struct {
	Campaign struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"campaign"`
	AdGroup struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"adGroup"`
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Metrics struct {
		Impressions      apiclient.Number `json:"impressions"`
		Clicks           apiclient.Number `json:"clicks"`
		CostMicros       apiclient.Number `json:"costMicros"`
		Conversions      apiclient.Number `json:"conversions"`
		ConversionsValue apiclient.Number `json:"conversionsValue"`
	} `json:"metrics"`
}

type searchStreamBatch struct {
	Results []GoogleAdsRow `json:"results"`
}

// SearchStream runs a GAQL query against one customer and returns every row
func (c *Client) SearchStream(ctx context.Context, customerID, query string) ([]GoogleAdsRow, error) {
	span := sentry.StartSpan(ctx, "googleads.search_stream")
	defer span.Finish()
	span.SetTag("customer_id", customerID)

	url := fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.baseURL, c.version, CleanCustomerID(customerID))

	var batches []searchStreamBatch
	if err := c.api.PostJSON(span.Context(), url, c.headers(), map[string]string{"query": query}, &batches); err != nil {
		return nil, err
	}

	var rows []GoogleAdsRow
	for _, b := range batches {
		rows = append(rows, b.Results...)
	}
	return rows, nil
}

// ConnectionStatus describes the result of TestConnection
type ConnectionStatus struct {
	Status              string   `json:"status"`
	MCC                 string   `json:"mcc"`
	AccessibleCustomers []string `json:"accessible_customers"`
}

// TestConnection lists the customers accessible with the configured credentials
func (c *Client) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	url := fmt.Sprintf("%s/%s/customers:listAccessibleCustomers", c.baseURL, c.version)

	var resp struct {
		ResourceNames []string `json:"resourceNames"`
	}
	if err := c.api.GetJSON(ctx, url, c.headers(), &resp); err != nil {
		return nil, err
	}

	return &ConnectionStatus{
		Status:              "connected",
		MCC:                 "customers/" + c.loginCustomerID,
		AccessibleCustomers: resp.ResourceNames,
	}, nil
}

// decodeError handles both the object and the streamed-array error shapes
func decodeError(body []byte) (string, string, bool) {
	if code, msg, ok := apiclient.DecodeStandardError(body); ok {
		return code, msg, true
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil || len(arr) == 0 {
		return "", "", false
	}
	return apiclient.DecodeStandardError(arr[0])
}
