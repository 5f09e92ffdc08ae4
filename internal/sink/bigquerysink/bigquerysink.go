// Package bigquerysink streams rows into a BigQuery table.
package bigquerysink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"onrampquotes/internal/record"
)

type Config struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	Location        string
	CredentialsFile string
	Endpoint        string
}

type Sink struct {
	cfg    Config
	client *bigquery.Client
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &Sink{cfg: cfg, client: client, logger: logger.With(zap.String("table", cfg.ref()))}, nil
}

func (c Config) ref() string { return c.ProjectID + "." + c.DatasetID + "." + c.TableID }

// Schema is the table schema inferred from record.Row with every column
// nullable, matching tables created by earlier versions of the scraper.
func Schema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(record.Row{})
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}
	for _, f := range schema {
		f.Required = false
	}
	return schema, nil
}

// Ensure creates the dataset and table when they do not exist.
func (s *Sink) Ensure(ctx context.Context) error {
	ds := s.client.Dataset(s.cfg.DatasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !hasCode(err, http.StatusNotFound) {
			return fmt.Errorf("get dataset %s: %w", s.cfg.DatasetID, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.cfg.Location}); err != nil && !hasCode(err, http.StatusConflict) {
			return fmt.Errorf("create dataset %s: %w", s.cfg.DatasetID, err)
		}
		s.logger.Info("created dataset", zap.String("dataset", s.cfg.ProjectID+"."+s.cfg.DatasetID))
	}

	table := ds.Table(s.cfg.TableID)
	if _, err := table.Metadata(ctx); err != nil {
		if !hasCode(err, http.StatusNotFound) {
			return fmt.Errorf("get table %s: %w", s.cfg.TableID, err)
		}
		schema, err := Schema()
		if err != nil {
			return err
		}
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil && !hasCode(err, http.StatusConflict) {
			return fmt.Errorf("create table %s: %w", s.cfg.TableID, err)
		}
		s.logger.Info("created table")
	}
	return nil
}

// Write streams rows through the insert API. Rows rejected individually are
// logged and skipped; only a failed request is returned as an error.
func (s *Sink) Write(ctx context.Context, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	ins := s.client.Dataset(s.cfg.DatasetID).Table(s.cfg.TableID).Inserter()
	err := ins.Put(ctx, rows)
	if err == nil {
		return nil
	}
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		for _, rowErr := range multi {
			s.logger.Warn("row rejected", zap.Int("row", rowErr.RowIndex), zap.String("error", rowErr.Error()))
		}
		return nil
	}
	return fmt.Errorf("insert rows: %w", err)
}

// ReadRows runs a query over the whole table, optionally bounded by since.
func (s *Sink) ReadRows(ctx context.Context, since time.Time) ([]record.Row, error) {
	q := s.client.Query(selectSQL(s.cfg.ref(), !since.IsZero()))
	if !since.IsZero() {
		q.Parameters = []bigquery.QueryParameter{{Name: "since", Value: since.UTC()}}
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	var out []record.Row
	for {
		var r record.Row
		err := it.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Sink) Close() error { return s.client.Close() }

// nullable columns written by older scrapers are coalesced so they load into
// record.Row; MarketRate stays nullable.
var coalesce = map[string]string{
	"Timestamp":      "",
	"FiatCurrency":   "''",
	"CryptoCurrency": "''",
	"Region":         "''",
	"PaymentMethod":  "''",
	"Provider":       "''",
	"Rank":           "0",
	"MarketRate":     "",
}

func selectSQL(table string, withSince bool) string {
	cols := make([]string, 0, len(record.Columns))
	for _, c := range record.Columns {
		def, ok := coalesce[c]
		if !ok {
			def = "0"
		}
		if def == "" {
			cols = append(cols, c)
			continue
		}
		cols = append(cols, fmt.Sprintf("IFNULL(%s, %s) AS %s", c, def, c))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM `%s`", strings.Join(cols, ", "), table)
	if withSince {
		b.WriteString(" WHERE Timestamp >= @since")
	}
	b.WriteString(" ORDER BY Timestamp")
	return b.String()
}

func hasCode(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
