// Package sqlitesink keeps rows in a local SQLite file for offline runs.
package sqlitesink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
	"onrampquotes/internal/record"
)

const table = "crypto_quotes"

type Sink struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, path string, logger *zap.Logger) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; avoids SQLITE_BUSY under concurrent batches
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Sink{db: db, logger: logger}, nil
}

func (s *Sink) Ensure(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL()); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// Write inserts rows in one transaction.
func (s *Sink) Write(ctx context.Context, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL())
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		vals := r.Values()
		vals[0] = r.Timestamp.UTC()
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("inserted rows", zap.Int("rows", len(rows)))
	return nil
}

func (s *Sink) ReadRows(ctx context.Context, since time.Time) ([]record.Row, error) {
	query := "SELECT " + strings.Join(record.Columns, ", ") + " FROM " + table
	var args []any
	if !since.IsZero() {
		query += " WHERE Timestamp >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY Timestamp"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
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

func (s *Sink) Close() error { return s.db.Close() }

var columnTypes = map[string]string{
	"Timestamp":      "DATETIME NOT NULL",
	"FiatCurrency":   "TEXT NOT NULL",
	"CryptoCurrency": "TEXT NOT NULL",
	"Region":         "TEXT NOT NULL",
	"PaymentMethod":  "TEXT NOT NULL",
	"Provider":       "TEXT NOT NULL",
	"Rank":           "INTEGER NOT NULL",
	"MarketRate":     "REAL",
}

func createTableSQL() string {
	defs := make([]string, 0, len(record.Columns))
	for _, c := range record.Columns {
		typ, ok := columnTypes[c]
		if !ok {
			typ = "REAL NOT NULL"
		}
		defs = append(defs, c+" "+typ)
	}
	return "CREATE TABLE IF NOT EXISTS " + table + " (" + strings.Join(defs, ", ") + ")"
}

func insertSQL() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(record.Columns)), ", ")
	return "INSERT INTO " + table + " (" + strings.Join(record.Columns, ", ") + ") VALUES (" + marks + ")"
}
