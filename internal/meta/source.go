package meta

import (
	"context"
	"fmt"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
)

// TokenProvider supplies the current access token
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Source produces meta_ads_performance rows
type Source struct {
	client *Client
	tokens TokenProvider
}

func NewSource(client *Client, tokens TokenProvider) *Source {
	return &Source{client: client, tokens: tokens}
}

func (s *Source) Platform() adsync.Platform { return adsync.MetaAds }
func (s *Source) Table() warehouse.Table    { return warehouse.MetaAdsPerformance }

func (s *Source) Fetch(ctx context.Context, acct adsync.Account, window adsync.DateRange) ([]warehouse.Row, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("meta access token: %w", err)
	}

	insights, err := s.client.Insights(ctx, acct.AccountID, token, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	accountID := NormaliseAccountID(acct.AccountID)
	rows := make([]warehouse.Row, 0, len(insights))
	for _, in := range insights {
		rows = append(rows, toRow(accountID, acct.ClientName, in))
	}
	return rows, nil
}

// conversionActions are summed into the conversions column
var conversionActions = map[string]bool{
	"purchase":              true,
	"lead":                  true,
	"complete_registration": true,
}

func toRow(accountID, accountName string, in Insight) warehouse.Row {
	spend := in.Spend.Float64()

	var purchases int64
	var conversions float64
	for _, a := range in.Actions {
		if a.ActionType == "purchase" {
			purchases += a.Value.Int64()
		}
		if conversionActions[a.ActionType] {
			conversions += a.Value.Float64()
		}
	}

	var purchaseValue float64
	for _, a := range in.ActionValues {
		if a.ActionType == "purchase" {
			purchaseValue += a.Value.Float64()
		}
	}

	return warehouse.Row{
		"date":           in.DateStart,
		"account_id":     accountID,
		"account_name":   accountName,
		"campaign_id":    in.CampaignID,
		"campaign_name":  in.CampaignName,
		"adset_id":       in.AdsetID,
		"adset_name":     in.AdsetName,
		"ad_id":          in.AdID,
		"ad_name":        in.AdName,
		"impressions":    in.Impressions.Int64(),
		"clicks":         in.Clicks.Int64(),
		"spend":          adsync.Round2(spend),
		"conversions":    adsync.Round2(conversions),
		"purchases":      purchases,
		"purchase_value": adsync.Round2(purchaseValue),
		"ctr":            adsync.Round2(in.CTR.Float64()),
		"cpc":            adsync.Round2(in.CPC.Float64()),
		"cpm":            adsync.Round2(in.CPM.Float64()),
		"roas":           adsync.ROAS(purchaseValue, spend),
	}
}
