// Package ga4 syncs Google Analytics 4 traffic, either through the Data API or
// by aggregating the native BigQuery export.
package ga4

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/apiclient"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/getsentry/sentry-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	analyticsScope = "https://www.googleapis.com/auth/analytics.readonly"
	reportPageSize = 100000
)

var (
	trafficDimensions = []string{"date", "sessionSource", "sessionMedium", "sessionCampaignName"}
	trafficMetrics    = []string{"sessions", "totalUsers", "screenPageViews", "eventCount", "ecommercePurchases", "purchaseRevenue"}
	trackedEvents     = []string{"form_submit", "click"}
)

// Options configures a DataClient
type Options struct {
	// HTTPClient overrides the OAuth2 client built from the refresh token
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// DataClient calls the GA4 Data API
type DataClient struct {
	api     *apiclient.Client
	baseURL string
}

func NewDataClient(ctx context.Context, cfg config.GA4, opts Options) (*DataClient, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, errors.New("GA4 OAuth credentials are incomplete")
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{analyticsScope},
		}
		httpClient = oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	}

	base := cfg.BaseURL
	if base == "" {
		base = "https://analyticsdata.googleapis.com/v1beta"
	}

	return &DataClient{
		api: apiclient.New(apiclient.Config{
			Vendor:            "ga4",
			HTTPClient:        httpClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             2,
		}),
		baseURL: strings.TrimRight(base, "/"),
	}, nil
}

type nameRef struct {
	Name string `json:"name"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ReportRequest is the runReport request body
type ReportRequest struct {
	DateRanges      []dateRange `json:"dateRanges"`
	Dimensions      []nameRef   `json:"dimensions"`
	Metrics         []nameRef   `json:"metrics"`
	DimensionFilter any         `json:"dimensionFilter,omitempty"`
	Limit           int         `json:"limit,omitempty"`
	Offset          int         `json:"offset,omitempty"`
}

type value struct {
	Value string `json:"value"`
}

// ReportRow is one row of a runReport response
type ReportRow struct {
	DimensionValues []value `json:"dimensionValues"`
	MetricValues    []value `json:"metricValues"`
}

// Dimension returns the i-th dimension value or ""
func (r ReportRow) Dimension(i int) string {
	if i < len(r.DimensionValues) {
		return r.DimensionValues[i].Value
	}
	return ""
}

// Metric returns the i-th metric value parsed as a number
func (r ReportRow) Metric(i int) apiclient.Number {
	if i >= len(r.MetricValues) {
		return 0
	}
	f, err := strconv.ParseFloat(r.MetricValues[i].Value, 64)
	if err != nil {
		return 0
	}
	return apiclient.Number(f)
}

type reportResponse struct {
	Rows     []ReportRow `json:"rows"`
	RowCount int         `json:"rowCount"`
}

func newReportRequest(window adsync.DateRange, dimensions, metrics []string) ReportRequest {
	req := ReportRequest{
		DateRanges: []dateRange{{StartDate: window.StartDate(), EndDate: window.EndDate()}},
		Limit:      reportPageSize,
	}
	for _, d := range dimensions {
		req.Dimensions = append(req.Dimensions, nameRef{Name: d})
	}
	for _, m := range metrics {
		req.Metrics = append(req.Metrics, nameRef{Name: m})
	}
	return req
}

// RunReport executes req for propertyID and reads every page
func (c *DataClient) RunReport(ctx context.Context, propertyID string, req ReportRequest) ([]ReportRow, error) {
	span := sentry.StartSpan(ctx, "ga4.run_report")
	defer span.Finish()
	span.SetTag("property_id", propertyID)

	if req.Limit <= 0 {
		req.Limit = reportPageSize
	}
	endpoint := fmt.Sprintf("%s/properties/%s:runReport", c.baseURL, strings.TrimPrefix(propertyID, "properties/"))

	var all []ReportRow
	for {
		var resp reportResponse
		if err := c.api.PostJSON(span.Context(), endpoint, nil, req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Rows...)

		req.Offset += len(resp.Rows)
		if len(resp.Rows) == 0 || req.Offset >= resp.RowCount {
			break
		}
	}
	return all, nil
}

// DataAPISource produces ga4_performance rows from the Data API
type DataAPISource struct {
	client *DataClient
}

func NewDataAPISource(client *DataClient) *DataAPISource {
	return &DataAPISource{client: client}
}

func (s *DataAPISource) Platform() adsync.Platform { return adsync.GA4 }
func (s *DataAPISource) Table() warehouse.Table    { return warehouse.GA4Performance }

type trafficKey struct {
	date, source, medium, campaign string
}

type eventCounts struct {
	formSubmissions int64
	clicks          int64
}

func (s *DataAPISource) Fetch(ctx context.Context, acct adsync.Account, window adsync.DateRange) ([]warehouse.Row, error) {
	traffic, err := s.client.RunReport(ctx, acct.AccountID, newReportRequest(window, trafficDimensions, trafficMetrics))
	if err != nil {
		return nil, fmt.Errorf("traffic report: %w", err)
	}
	if len(traffic) == 0 {
		return nil, nil
	}

	eventsReq := newReportRequest(window, append(append([]string{}, trafficDimensions...), "eventName"), []string{"eventCount"})
	eventsReq.DimensionFilter = map[string]any{
		"filter": map[string]any{
			"fieldName":    "eventName",
			"inListFilter": map[string]any{"values": trackedEvents},
		},
	}
	eventRows, err := s.client.RunReport(ctx, acct.AccountID, eventsReq)
	if err != nil {
		return nil, fmt.Errorf("event report: %w", err)
	}

	events := make(map[trafficKey]*eventCounts)
	for _, r := range eventRows {
		key := keyOf(r)
		counts, ok := events[key]
		if !ok {
			counts = &eventCounts{}
			events[key] = counts
		}
		switch r.Dimension(4) {
		case "form_submit":
			counts.formSubmissions += r.Metric(0).Int64()
		case "click":
			counts.clicks += r.Metric(0).Int64()
		}
	}

	rows := make([]warehouse.Row, 0, len(traffic))
	for _, r := range traffic {
		key := keyOf(r)
		date, err := parseReportDate(key.date)
		if err != nil {
			return nil, err
		}

		sessions := r.Metric(0).Int64()
		pageviews := r.Metric(2).Int64()
		purchases := r.Metric(4).Int64()

		row := warehouse.Row{
			"date":              date,
			"property_id":       acct.AccountID,
			"property_name":     acct.ClientName,
			"source":            key.source,
			"medium":            key.medium,
			"campaign":          key.campaign,
			"sessions":          sessions,
			"users":             r.Metric(1).Int64(),
			"pageviews":         pageviews,
			"total_events":      r.Metric(3).Int64(),
			"purchases":         purchases,
			"revenue":           adsync.Round2(r.Metric(5).Float64()),
			"conversion_rate":   adsync.Round2(adsync.SafeDiv(float64(purchases), float64(sessions)) * 100),
			"pages_per_session": adsync.Round2(adsync.SafeDiv(float64(pageviews), float64(sessions))),
			"form_submissions":  int64(0),
			"clicks":            int64(0),
		}
		if counts, ok := events[key]; ok {
			row["form_submissions"] = counts.formSubmissions
			row["clicks"] = counts.clicks
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func keyOf(r ReportRow) trafficKey {
	return trafficKey{
		date:     r.Dimension(0),
		source:   orDefault(r.Dimension(1), "(direct)"),
		medium:   orDefault(r.Dimension(2), "(none)"),
		campaign: orDefault(r.Dimension(3), "(not set)"),
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// parseReportDate converts the Data API's YYYYMMDD date to YYYY-MM-DD
func parseReportDate(s string) (string, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("unexpected GA4 date %q", s)
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:], nil
}
