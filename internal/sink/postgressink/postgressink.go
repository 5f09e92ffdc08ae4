// Package postgressink stores rows in a PostgreSQL table.
package postgressink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"onrampquotes/internal/record"
)

type Sink struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

func New(ctx context.Context, dsn, table string, logger *zap.Logger) (*Sink, error) {
	if table == "" {
		table = "crypto_quotes"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Sink{pool: pool, table: table, logger: logger}, nil
}

func (s *Sink) Ensure(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL(s.table)); err != nil {
		return fmt.Errorf("error creating %s table: %w", s.table, err)
	}
	return nil
}

// Write bulk-loads rows with COPY.
func (s *Sink) Write(ctx context.Context, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.table},
		record.Columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rows[i].Values(), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy rows into %s: %w", s.table, err)
	}
	s.logger.Debug("copied rows", zap.String("table", s.table), zap.Int64("rows", n))
	return nil
}

func (s *Sink) ReadRows(ctx context.Context, since time.Time) ([]record.Row, error) {
	rows, err := s.pool.Query(ctx, selectSQL(s.table), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []record.Row
	for rows.Next() {
		var r record.Row
		if err := r.Scan(rows.Scan); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

var columnTypes = map[string]string{
	"Timestamp":      "TIMESTAMPTZ NOT NULL",
	"FiatCurrency":   "TEXT NOT NULL",
	"CryptoCurrency": "TEXT NOT NULL",
	"Region":         "TEXT NOT NULL",
	"PaymentMethod":  "TEXT NOT NULL",
	"Provider":       "TEXT NOT NULL",
	"Rank":           "BIGINT NOT NULL",
	"MarketRate":     "DOUBLE PRECISION",
}

func createTableSQL(table string) string {
	defs := make([]string, 0, len(record.Columns))
	for _, c := range record.Columns {
		typ, ok := columnTypes[c]
		if !ok {
			typ = "DOUBLE PRECISION NOT NULL"
		}
		defs = append(defs, pgx.Identifier{c}.Sanitize()+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", pgx.Identifier{table}.Sanitize(), strings.Join(defs, ",\n\t"))
}

func selectSQL(table string) string {
	cols := make([]string, 0, len(record.Columns))
	for _, c := range record.Columns {
		cols = append(cols, pgx.Identifier{c}.Sanitize())
	}
	return fmt.Sprintf(`SELECT %s FROM %s WHERE "Timestamp" >= $1 ORDER BY "Timestamp"`,
		strings.Join(cols, ", "), pgx.Identifier{table}.Sanitize())
}
