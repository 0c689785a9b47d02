package warehouse

import (
	"context"
	"fmt"
)

// Options selects and configures a backend
type Options struct {
	Driver     string
	BigQuery   BigQueryConfig
	SQLitePath string
}

// Open returns the backend named by opts.Driver and ensures every sync table exists
func Open(ctx context.Context, opts Options) (Warehouse, error) {
	var (
		wh  Warehouse
		err error
	)

	switch opts.Driver {
	case "", "bigquery":
		wh, err = NewBigQuery(ctx, opts.BigQuery)
	case "sqlite":
		wh, err = NewSQLite(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	for _, table := range AllTables() {
		if err := wh.EnsureTable(ctx, table); err != nil {
			wh.Close()
			return nil, err
		}
	}
	return wh, nil
}

// AllTables lists every destination table
func AllTables() []Table {
	return []Table{
		GoogleAdsPerformance,
		MetaAdsPerformance,
		TikTokAdsPerformance,
		GA4Performance,
		GA4UnifiedPerformance,
	}
}
