// Package tiktok reads ad-level reports from the TikTok Business API.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/apiclient"
	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
	"github.com/getsentry/sentry-go"
)

const (
	pageSize = 1000
	maxPages = 200
)

var (
	reportDimensions = []string{"stat_time_day", "campaign_id", "adgroup_id", "ad_id"}
	reportMetrics    = []string{
		"campaign_name",
		"adgroup_name",
		"ad_name",
		"spend",
		"impressions",
		"clicks",
		"conversion",
		"total_purchase_value",
		"video_play_actions",
		"video_views_p25",
		"video_views_p50",
		"video_views_p75",
		"video_views_p100",
		"ctr",
		"cpc",
		"cpm",
	}
)

// Options configures a Client
type Options struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client is a TikTok Business API client
type Client struct {
	api         *apiclient.Client
	baseURL     string
	accessToken string
}

func New(cfg config.TikTok, opts Options) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("TIKTOK_ACCESS_TOKEN is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://business-api.tiktok.com/open_api/v1.3"
	}

	return &Client{
		api: apiclient.New(apiclient.Config{
			Vendor:            "tiktok_ads",
			HTTPClient:        opts.HTTPClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             1,
			DecodeError:       decodeError,
		}),
		baseURL:     strings.TrimRight(base, "/"),
		accessToken: cfg.AccessToken,
	}, nil
}

// ReportRow is one day of one ad
type ReportRow struct {
	Dimensions struct {
		StatTimeDay string `json:"stat_time_day"`
		CampaignID  string `json:"campaign_id"`
		AdgroupID   string `json:"adgroup_id"`
		AdID        string `json:"ad_id"`
	} `json:"dimensions"`
	Metrics struct {
		CampaignName       string           `json:"campaign_name"`
		AdgroupName        string           `json:"adgroup_name"`
		AdName             string           `json:"ad_name"`
		Spend              apiclient.Number `json:"spend"`
		Impressions        apiclient.Number `json:"impressions"`
		Clicks             apiclient.Number `json:"clicks"`
		Conversion         apiclient.Number `json:"conversion"`
		TotalPurchaseValue apiclient.Number `json:"total_purchase_value"`
		VideoPlayActions   apiclient.Number `json:"video_play_actions"`
		VideoViewsP25      apiclient.Number `json:"video_views_p25"`
		VideoViewsP50      apiclient.Number `json:"video_views_p50"`
		VideoViewsP75      apiclient.Number `json:"video_views_p75"`
		VideoViewsP100     apiclient.Number `json:"video_views_p100"`
		CTR                apiclient.Number `json:"ctr"`
		CPC                apiclient.Number `json:"cpc"`
		CPM                apiclient.Number `json:"cpm"`
	} `json:"metrics"`
}

// envelope is the wrapper around every Business API response. A zero code
// means success regardless of the HTTP status.
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type reportData struct {
	List     []ReportRow `json:"list"`
	PageInfo struct {
		Page        int `json:"page"`
		PageSize    int `json:"page_size"`
		TotalNumber int `json:"total_number"`
		TotalPage   int `json:"total_page"`
	} `json:"page_info"`
}

// Report returns the integrated BASIC report for advertiserID between start
// and end inclusive, reading every page.
func (c *Client) Report(ctx context.Context, advertiserID string, start, end time.Time) ([]ReportRow, error) {
	span := sentry.StartSpan(ctx, "tiktok.report")
	defer span.Finish()
	span.SetTag("advertiser_id", advertiserID)

	dims, _ := json.Marshal(reportDimensions)
	metrics, _ := json.Marshal(reportMetrics)

	var all []ReportRow
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("tiktok_ads: report paging exceeded %d pages", maxPages)
		}

		params := url.Values{}
		params.Set("advertiser_id", advertiserID)
		params.Set("report_type", "BASIC")
		params.Set("data_level", "AUCTION_AD")
		params.Set("dimensions", string(dims))
		params.Set("metrics", string(metrics))
		params.Set("start_date", start.Format("2006-01-02"))
		params.Set("end_date", end.Format("2006-01-02"))
		params.Set("page", strconv.Itoa(page))
		params.Set("page_size", strconv.Itoa(pageSize))

		var data reportData
		if err := c.get(span.Context(), "/report/integrated/get/", params, &data); err != nil {
			return nil, err
		}
		all = append(all, data.List...)

		if page >= data.PageInfo.TotalPage {
			break
		}
	}

	return all, nil
}

// AdvertiserInfo is the subset of advertiser/info used for connection checks
type AdvertiserInfo struct {
	AdvertiserID string `json:"advertiser_id"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	Status       string `json:"status"`
}

// AdvertiserInfo looks up advertiser metadata
func (c *Client) AdvertiserInfo(ctx context.Context, advertiserIDs ...string) ([]AdvertiserInfo, error) {
	ids, _ := json.Marshal(advertiserIDs)
	fields, _ := json.Marshal([]string{"advertiser_id", "name", "company", "status"})

	params := url.Values{}
	params.Set("advertiser_ids", string(ids))
	params.Set("fields", string(fields))

	var data struct {
		List []AdvertiserInfo `json:"list"`
	}
	if err := c.get(ctx, "/advertiser/info/", params, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	header := http.Header{}
	header.Set("Access-Token", c.accessToken)

	var env envelope
	if err := c.api.GetJSON(ctx, c.baseURL+path+"?"+params.Encode(), header, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return &apiclient.APIError{
			Vendor:     c.api.Vendor(),
			StatusCode: http.StatusOK,
			Code:       strconv.Itoa(env.Code),
			Message:    env.Message,
		}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("tiktok_ads: failed to decode data: %w", err)
	}
	return nil
}

func decodeError(body []byte) (string, string, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Message == "" {
		return "", "", false
	}
	return strconv.Itoa(env.Code), env.Message, true
}
