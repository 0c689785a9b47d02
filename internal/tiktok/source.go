package tiktok

import (
	"context"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
)

// Source produces tiktok_ads_performance rows
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Platform() adsync.Platform { return adsync.TikTokAds }
func (s *Source) Table() warehouse.Table    { return warehouse.TikTokAdsPerformance }

func (s *Source) Fetch(ctx context.Context, acct adsync.Account, window adsync.DateRange) ([]warehouse.Row, error) {
	report, err := s.client.Report(ctx, acct.AccountID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	rows := make([]warehouse.Row, 0, len(report))
	for _, r := range report {
		rows = append(rows, toRow(acct, r))
	}
	return rows, nil
}

func toRow(acct adsync.Account, r ReportRow) warehouse.Row {
	m := r.Metrics
	spend := m.Spend.Float64()
	conversions := m.Conversion.Int64()

	// stat_time_day arrives as "2006-01-02 00:00:00"
	date := r.Dimensions.StatTimeDay
	if len(date) > 10 {
		date = date[:10]
	}

	return warehouse.Row{
		"date":             date,
		"advertiser_id":    acct.AccountID,
		"advertiser_name":  acct.ClientName,
		"campaign_id":      r.Dimensions.CampaignID,
		"campaign_name":    m.CampaignName,
		"adgroup_id":       r.Dimensions.AdgroupID,
		"adgroup_name":     m.AdgroupName,
		"ad_id":            r.Dimensions.AdID,
		"ad_name":          m.AdName,
		"impressions":      m.Impressions.Int64(),
		"clicks":           m.Clicks.Int64(),
		"spend":            adsync.Round2(spend),
		"conversions":      conversions,
		"conversion_value": adsync.Round2(m.TotalPurchaseValue.Float64()),
		"video_views":      m.VideoPlayActions.Int64(),
		"video_views_25":   m.VideoViewsP25.Int64(),
		"video_views_50":   m.VideoViewsP50.Int64(),
		"video_views_75":   m.VideoViewsP75.Int64(),
		"video_views_100":  m.VideoViewsP100.Int64(),
		"ctr":              adsync.Round2(m.CTR.Float64()),
		"cpc":              adsync.Round2(m.CPC.Float64()),
		"cpm":              adsync.Round2(m.CPM.Float64()),
		"cpa":              adsync.CPA(spend, float64(conversions)),
	}
}
