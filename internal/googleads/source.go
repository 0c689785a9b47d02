package googleads

import (
	"context"
	"fmt"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
)

const performanceQuery = `
SELECT
  campaign.id,
  campaign.name,
  campaign.status,
  ad_group.id,
  ad_group.name,
  segments.date,
  metrics.impressions,
  metrics.clicks,
  metrics.cost_micros,
  metrics.conversions,
  metrics.conversions_value
FROM ad_group
WHERE segments.date BETWEEN '%s' AND '%s'
  AND campaign.status != 'REMOVED'
ORDER BY segments.date DESC`

// Source produces google_ads_performance rows
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Platform() adsync.Platform { return adsync.GoogleAds }
func (s *Source) Table() warehouse.Table    { return warehouse.GoogleAdsPerformance }

// Fetch reads ad group rows for the window. The row keeps the registry form of
// the customer id.
func (s *Source) Fetch(ctx context.Context, acct adsync.Account, window adsync.DateRange) ([]warehouse.Row, error) {
	query := fmt.Sprintf(performanceQuery, window.StartDate(), window.EndDate())

	results, err := s.client.SearchStream(ctx, acct.AccountID, query)
	if err != nil {
		return nil, err
	}

	rows := make([]warehouse.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, toRow(acct, r))
	}
	return rows, nil
}

func toRow(acct adsync.Account, r GoogleAdsRow) warehouse.Row {
	impressions := r.Metrics.Impressions.Float64()
	clicks := r.Metrics.Clicks.Float64()
	cost := r.Metrics.CostMicros.Float64() / 1_000_000
	conversions := r.Metrics.Conversions.Float64()
	value := r.Metrics.ConversionsValue.Float64()

	return warehouse.Row{
		"date":              r.Segments.Date,
		"customer_id":       acct.AccountID,
		"customer_name":     acct.ClientName,
		"campaign_id":       r.Campaign.ID,
		"campaign_name":     r.Campaign.Name,
		"campaign_status":   r.Campaign.Status,
		"ad_group_id":       r.AdGroup.ID,
		"ad_group_name":     r.AdGroup.Name,
		"impressions":       r.Metrics.Impressions.Int64(),
		"clicks":            r.Metrics.Clicks.Int64(),
		"cost":              adsync.Round2(cost),
		"conversions":       conversions,
		"conversions_value": adsync.Round2(value),
		"ctr":               adsync.CTR(clicks, impressions),
		"cpc":               adsync.CPC(cost, clicks),
		"cpm":               adsync.CPM(cost, impressions),
		"cpa":               adsync.CPA(cost, conversions),
		"roas":              adsync.ROAS(value, cost),
	}
}
