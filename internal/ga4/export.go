package ga4

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/warehouse"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedWarehouse is returned when export mode is used without BigQuery
var ErrUnsupportedWarehouse = errors.New("ga4 export sync requires the bigquery warehouse")

var propertyIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ExportWarehouse is the part of the BigQuery warehouse the export sync needs
type ExportWarehouse interface {
	EnsureTable(ctx context.Context, table warehouse.Table) error
	Exec(ctx context.Context, sql string, params ...warehouse.Param) (int64, error)
	Count(ctx context.Context, sql string, params ...warehouse.Param) (int64, error)
	QualifiedName(table string) string
	Project() string
}

// ExportSync rebuilds ga4_unified_performance from the analytics_<property>
// export datasets inside the warehouse project.
type ExportSync struct {
	wh       ExportWarehouse
	daysBack int
}

// NewExportSync returns ErrUnsupportedWarehouse unless wh can run DML
func NewExportSync(wh warehouse.Warehouse, daysBack int) (*ExportSync, error) {
	ew, ok := wh.(ExportWarehouse)
	if !ok {
		return nil, fmt.Errorf("%w (driver %s)", ErrUnsupportedWarehouse, wh.Driver())
	}
	return newExportSync(ew, daysBack), nil
}

func newExportSync(wh ExportWarehouse, daysBack int) *ExportSync {
	if daysBack <= 0 {
		daysBack = 30
	}
	return &ExportSync{wh: wh, daysBack: daysBack}
}

func (s *ExportSync) Platform() adsync.Platform { return adsync.GA4 }

func (s *ExportSync) Prepare(ctx context.Context) error {
	return s.wh.EnsureTable(ctx, warehouse.GA4UnifiedPerformance)
}

func (s *ExportSync) Window(now time.Time) adsync.DateRange {
	return adsync.Trailing(now, s.daysBack, 0)
}

// SyncAccount replaces the client's window in one transaction and returns the
// number of rows stamped by this run.
func (s *ExportSync) SyncAccount(ctx context.Context, acct adsync.Account, window adsync.DateRange, stamp time.Time) (int, error) {
	if !propertyIDPattern.MatchString(acct.AccountID) {
		return 0, fmt.Errorf("invalid ga4 property id %q", acct.AccountID)
	}

	target := s.wh.QualifiedName(warehouse.GA4UnifiedPerformance.Name)
	script := exportScript(target, s.wh.Project(), acct.AccountID)

	params := []warehouse.Param{
		{Name: "client_id", Value: acct.ClientID},
		{Name: "client_name", Value: acct.ClientName},
		{Name: "property_id", Value: acct.AccountID},
		{Name: "sync_timestamp", Value: stamp.UTC()},
		{Name: "start_suffix", Value: window.Start.Format("20060102")},
		{Name: "end_suffix", Value: window.End.Format("20060102")},
		warehouse.DateParam("start_date", window.Start),
		warehouse.DateParam("end_date", window.End),
	}
	if _, err := s.wh.Exec(ctx, script, params...); err != nil {
		return 0, fmt.Errorf("rebuild ga4 rows: %w", err)
	}

	count, err := s.wh.Count(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE client_id = @client_id AND sync_timestamp = @sync_timestamp", target),
		warehouse.Param{Name: "client_id", Value: acct.ClientID},
		warehouse.Param{Name: "sync_timestamp", Value: stamp.UTC()},
	)
	if err != nil {
		return 0, fmt.Errorf("count ga4 rows: %w", err)
	}

	log.Info().
		Str("platform", string(adsync.GA4)).
		Str("client_id", acct.ClientID).
		Str("property_id", acct.AccountID).
		Int64("rows", count).
		Str("window", window.String()).
		Msg("Rebuilt GA4 rows from export")

	return int(count), nil
}

// exportScript deletes the client's window and inserts the aggregate inside a
// single transaction. The property id is validated before interpolation.
func exportScript(target, project, propertyID string) string {
	return fmt.Sprintf(`BEGIN TRANSACTION;

DELETE FROM %[1]s
WHERE client_id = @client_id
  AND date BETWEEN @start_date AND @end_date;

INSERT INTO %[1]s
  (sync_timestamp, date, client_id, client_name, ga4_property_id,
   source, medium, campaign, users, sessions, pageviews,
   conversions, revenue, add_to_carts, checkouts)
SELECT
  @sync_timestamp,
  PARSE_DATE('%%Y%%m%%d', event_date) AS date,
  @client_id,
  @client_name,
  @property_id,
  IFNULL(traffic_source.source, '(direct)') AS source,
  IFNULL(traffic_source.medium, '(none)') AS medium,
  IFNULL(traffic_source.name, '(not set)') AS campaign,
  COUNT(DISTINCT user_pseudo_id) AS users,
  COUNT(DISTINCT CONCAT(user_pseudo_id, CAST(EXTRACT(DATE FROM TIMESTAMP_MICROS(event_timestamp)) AS STRING))) AS sessions,
  COUNTIF(event_name = 'page_view') AS pageviews,
  COUNTIF(event_name = 'purchase') AS conversions,
  ROUND(SUM(IF(event_name = 'purchase', IFNULL(ecommerce.purchase_revenue, 0), 0)), 2) AS revenue,
  COUNTIF(event_name = 'add_to_cart') AS add_to_carts,
  COUNTIF(event_name = 'begin_checkout') AS checkouts
FROM %[2]s
WHERE _TABLE_SUFFIX BETWEEN @start_suffix AND @end_suffix
  AND traffic_source.source IS NOT NULL
GROUP BY date, source, medium, campaign;

COMMIT TRANSACTION;`, target, fmt.Sprintf("`%s.analytics_%s.events_*`", project, propertyID))
}
