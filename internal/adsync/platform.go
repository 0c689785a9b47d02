// Package adsync runs the per-platform ETL jobs that pull daily ad and
// analytics reports for every active client and append them to the warehouse.
package adsync

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
)

// Platform identifies a vendor integration
type Platform string

const (
	GoogleAds Platform = "google_ads"
	MetaAds   Platform = "meta_ads"
	TikTokAds Platform = "tiktok_ads"
	GA4       Platform = "ga4"
)

// Triggers recorded against sync runs
const (
	TriggerScheduled = "scheduled"
	TriggerFrequent  = "frequent"
	TriggerManual    = "manual"
	TriggerCLI       = "cli"
)

// AllPlatforms lists every supported platform in run order
func AllPlatforms() []Platform {
	return []Platform{GoogleAds, MetaAds, TikTokAds, GA4}
}

// AdPlatforms are the paid media platforms run by the daily schedule
func AdPlatforms() []Platform {
	return []Platform{GoogleAds, MetaAds, TikTokAds}
}

// ParsePlatform accepts the canonical names plus the short aliases used on the CLI
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google_ads", "google", "googleads":
		return GoogleAds, nil
	case "meta_ads", "meta", "facebook":
		return MetaAds, nil
	case "tiktok_ads", "tiktok":
		return TikTokAds, nil
	case "ga4", "google_analytics":
		return GA4, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// ParsePlatforms parses a list, returning AllPlatforms when it is empty
func ParsePlatforms(values []string) ([]Platform, error) {
	if len(values) == 0 {
		return AllPlatforms(), nil
	}
	seen := make(map[Platform]struct{}, len(values))
	out := make([]Platform, 0, len(values))
	for _, v := range values {
		p, err := ParsePlatform(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// AccountColumn is the registry column holding the platform's account id
func (p Platform) AccountColumn() string {
	switch p {
	case GoogleAds:
		return db.ColumnGoogleAdsID
	case MetaAds:
		return db.ColumnMetaAccountID
	case TikTokAds:
		return db.ColumnTikTokAdvertiserID
	case GA4:
		return db.ColumnGA4PropertyID
	}
	return ""
}

// Account is one client's account on a platform
type Account struct {
	ClientID   string
	ClientName string
	AccountID  string
}

func accountFor(c *db.Client, p Platform) Account {
	return Account{
		ClientID:   c.ClientID,
		ClientName: c.ClientName,
		AccountID:  strings.TrimSpace(c.AccountID(p.AccountColumn())),
	}
}

// DateRange is an inclusive range of calendar days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Trailing returns the range ending lagDays before today and starting daysBack
// days before that end. Times are truncated to midnight in now's location.
func Trailing(now time.Time, daysBack, lagDays int) DateRange {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := today.AddDate(0, 0, -lagDays)
	return DateRange{Start: end.AddDate(0, 0, -daysBack), End: end}
}

// Days returns the number of calendar days in the range
func (r DateRange) Days() int {
	return int(math.Round(r.End.Sub(r.Start).Hours()/24)) + 1
}

func (r DateRange) StartDate() string { return r.Start.Format("2006-01-02") }
func (r DateRange) EndDate() string   { return r.End.Format("2006-01-02") }

func (r DateRange) String() string {
	return r.StartDate() + ".." + r.EndDate()
}
