package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Staging tables expire on their own if the explicit delete is missed
const stagingTTL = 6 * time.Hour

// BigQueryConfig selects the project and dataset written to
type BigQueryConfig struct {
	ProjectID       string
	DatasetID       string
	CredentialsJSON string
	Location        string
}

// Param is a named query parameter
type Param struct {
	Name  string
	Value any
}

// BigQuery is the production warehouse backend
type BigQuery struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQuery opens a BigQuery client. When CredentialsJSON is empty the
// application default credentials are used.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("bigquery project id is required")
	}
	if cfg.DatasetID == "" {
		cfg.DatasetID = "ads_data"
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	log.Info().
		Str("project", cfg.ProjectID).
		Str("dataset", cfg.DatasetID).
		Msg("Connected to BigQuery")

	return &BigQuery{client: client, project: cfg.ProjectID, dataset: cfg.DatasetID}, nil
}

func (b *BigQuery) Driver() string  { return "bigquery" }
func (b *BigQuery) Project() string { return b.project }
func (b *BigQuery) Dataset() string { return b.dataset }

// QualifiedName returns `project.dataset.table` for use in SQL
func (b *BigQuery) QualifiedName(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", b.project, b.dataset, table)
}

func (b *BigQuery) Close() error {
	return b.client.Close()
}

// EnsureTable creates a day-partitioned table, ignoring "already exists"
func (b *BigQuery) EnsureTable(ctx context.Context, table Table) error {
	span := sentry.StartSpan(ctx, "warehouse.ensure_table")
	defer span.Finish()
	span.SetTag("table", table.Name)

	meta := &bigquery.TableMetadata{Schema: bigQuerySchema(table)}
	if table.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: table.PartitionField,
		}
	}

	ref := b.client.Dataset(b.dataset).Table(table.Name)
	err := ref.Create(span.Context(), meta)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return b.checkExisting(span.Context(), ref, table)
		}
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}

	log.Info().Str("table", table.Name).Msg("Created warehouse table")
	return nil
}

// checkExisting verifies a pre-existing table can take our rows. Loads go out
// without a schema so the table's own field modes apply; every column we
// write must therefore already exist.
func (b *BigQuery) checkExisting(ctx context.Context, ref *bigquery.Table, table Table) error {
	md, err := ref.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema of %s: %w", table.Name, err)
	}
	if missing := missingColumns(md.Schema, table); len(missing) > 0 {
		return fmt.Errorf("table %s exists without columns: %s", table.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Append loads all rows in a single NDJSON load job so a client's rows land
// together or not at all.
func (b *BigQuery) Append(ctx context.Context, table Table, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	span := sentry.StartSpan(ctx, "warehouse.append")
	defer span.Finish()
	span.SetTag("table", table.Name)
	span.SetData("rows", len(rows))

	payload, err := encodeNDJSON(table, rows)
	if err != nil {
		return 0, err
	}

	ref := b.client.Dataset(b.dataset).Table(table.Name)
	if err := b.load(span.Context(), ref, payload, bigquery.WriteAppend); err != nil {
		return 0, fmt.Errorf("load into %s failed: %w", table.Name, err)
	}
	return len(rows), nil
}

// ReplaceRange loads rows into a short-lived staging table, then deletes the
// account's window and copies the staged rows inside one script transaction.
func (b *BigQuery) ReplaceRange(ctx context.Context, table Table, accountID string, from, to time.Time, rows []Row) (int, error) {
	if err := requireRangeFields(table); err != nil {
		return 0, err
	}

	span := sentry.StartSpan(ctx, "warehouse.replace_range")
	defer span.Finish()
	span.SetTag("table", table.Name)
	span.SetData("rows", len(rows))

	payload, err := encodeNDJSON(table, rows)
	if err != nil {
		return 0, err
	}

	params := []Param{
		{Name: "account_id", Value: accountID},
		DateParam("start_date", from),
		DateParam("end_date", to),
	}

	if len(rows) == 0 {
		if _, err := b.Exec(span.Context(), deleteRangeSQL(b.QualifiedName(table.Name), table), params...); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table.Name, err)
		}
		return 0, nil
	}

	staging := b.client.Dataset(b.dataset).Table(stagingName(table.Name))
	stagingMeta := &bigquery.TableMetadata{
		Schema:         bigQuerySchema(table),
		ExpirationTime: time.Now().Add(stagingTTL),
	}
	if err := staging.Create(span.Context(), stagingMeta); err != nil {
		return 0, fmt.Errorf("failed to create staging table for %s: %w", table.Name, err)
	}
	defer func() {
		if err := staging.Delete(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("table", staging.TableID).Msg("Failed to drop staging table")
		}
	}()

	if err := b.load(span.Context(), staging, payload, bigquery.WriteTruncate); err != nil {
		return 0, fmt.Errorf("staging load for %s failed: %w", table.Name, err)
	}

	script := replaceScript(b.QualifiedName(table.Name), b.QualifiedName(staging.TableID), table)
	if _, err := b.Exec(span.Context(), script, params...); err != nil {
		return 0, fmt.Errorf("failed to replace rows in %s: %w", table.Name, err)
	}
	return len(rows), nil
}

// load runs one NDJSON load job into an existing table
func (b *BigQuery) load(ctx context.Context, ref *bigquery.Table, payload []byte, disposition bigquery.TableWriteDisposition) error {
	source := bigquery.NewReaderSource(bytes.NewReader(payload))
	source.SourceFormat = bigquery.JSON

	loader := ref.LoaderFrom(source)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start load: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// Exec runs a DML statement and returns the number of affected rows
func (b *BigQuery) Exec(ctx context.Context, sql string, params ...Param) (int64, error) {
	span := sentry.StartSpan(ctx, "warehouse.exec")
	defer span.Finish()

	q := b.query(sql, params)
	job, err := q.Run(span.Context())
	if err != nil {
		return 0, fmt.Errorf("failed to run query: %w", err)
	}
	status, err := job.Wait(span.Context())
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

// Count runs a query whose first column of the first row is an integer
func (b *BigQuery) Count(ctx context.Context, sql string, params ...Param) (int64, error) {
	span := sentry.StartSpan(ctx, "warehouse.count")
	defer span.Finish()

	it, err := b.query(sql, params).Read(span.Context())
	if err != nil {
		return 0, fmt.Errorf("failed to run count query: %w", err)
	}

	var row []bigquery.Value
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	if len(row) == 0 || row[0] == nil {
		return 0, nil
	}
	n, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("count query returned %T", row[0])
	}
	return n, nil
}

func (b *BigQuery) query(sql string, params []Param) *bigquery.Query {
	q := b.client.Query(sql)
	for _, p := range params {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: p.Name, Value: p.Value})
	}
	return q
}

// bigQuerySchema leaves every field NULLABLE, matching tables created by
// earlier loaders of the same datasets.
func bigQuerySchema(table Table) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(table.Columns))
	for _, c := range table.Columns {
		schema = append(schema, &bigquery.FieldSchema{Name: c.Name, Type: bigQueryType(c.Type)})
	}
	return schema
}

func bigQueryType(t ColumnType) bigquery.FieldType {
	switch t {
	case Integer:
		return bigquery.IntegerFieldType
	case Float:
		return bigquery.FloatFieldType
	case Date:
		return bigquery.DateFieldType
	case Timestamp:
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

func missingColumns(schema bigquery.Schema, table Table) []string {
	have := make(map[string]bool, len(schema))
	for _, f := range schema {
		have[strings.ToLower(f.Name)] = true
	}
	var missing []string
	for _, c := range table.Columns {
		if !have[strings.ToLower(c.Name)] {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

func stagingName(table string) string {
	return fmt.Sprintf("%s_staging_%s", table, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func bqIdent(name string) string {
	return "`" + name + "`"
}

func deleteRangeSQL(target string, table Table) string {
	return fmt.Sprintf("DELETE FROM %s\nWHERE %s = @account_id\n  AND %s BETWEEN @start_date AND @end_date",
		target, bqIdent(table.AccountField), bqIdent(table.PartitionField))
}

// replaceScript swaps the account's window for the staged rows atomically
func replaceScript(target, staging string, table Table) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = bqIdent(c.Name)
	}
	list := strings.Join(cols, ", ")

	return fmt.Sprintf(`BEGIN TRANSACTION;

%s;

INSERT INTO %s (%s)
SELECT %s FROM %s;

COMMIT TRANSACTION;`, deleteRangeSQL(target, table), target, list, list, staging)
}

// encodeNDJSON renders rows as newline-delimited JSON in column order
func encodeNDJSON(table Table, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	for i, row := range rows {
		if err := Validate(table, row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		record := make(map[string]any, len(row))
		for _, col := range table.Columns {
			v, ok := row[col.Name]
			if !ok {
				continue
			}
			encoded, err := encodeValue(col, v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			record[col.Name] = encoded
		}

		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DateParam binds t as a DATE query parameter
func DateParam(name string, t time.Time) Param {
	return Param{Name: name, Value: civil.DateOf(t)}
}
