// Package sink stores scraped rows and reads them back for analysis.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"onrampquotes/internal/config"
	"onrampquotes/internal/record"
	"onrampquotes/internal/sink/bigquerysink"
	"onrampquotes/internal/sink/jsonlsink"
	"onrampquotes/internal/sink/postgressink"
	"onrampquotes/internal/sink/sqlitesink"
)

// ErrUnknownSink is returned by Open for an unsupported sink kind.
var ErrUnknownSink = errors.New("unknown sink")

// Sink is a destination for rows.
type Sink interface {
	// Ensure creates whatever container the rows go into when missing.
	Ensure(ctx context.Context) error
	Write(ctx context.Context, rows []record.Row) error
	Close() error
}

// Reader returns stored rows with Timestamp at or after since. A zero since
// returns everything.
type Reader interface {
	ReadRows(ctx context.Context, since time.Time) ([]record.Row, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Reader
}

var (
	_ Store = (*bigquerysink.Sink)(nil)
	_ Store = (*postgressink.Sink)(nil)
	_ Store = (*sqlitesink.Sink)(nil)
	_ Store = (*jsonlsink.Sink)(nil)
)

// Open connects the store selected by cfg.Kind. Callers own Close.
func Open(ctx context.Context, cfg config.Sink, logger *zap.Logger) (Store, error) {
	switch cfg.Kind {
	case config.SinkBigQuery:
		bq := cfg.BigQuery
		return bigquerysink.New(ctx, bigquerysink.Config{
			ProjectID:       bq.ProjectID,
			DatasetID:       bq.DatasetID,
			TableID:         bq.TableID,
			Location:        bq.Location,
			CredentialsFile: bq.CredentialsFile,
			Endpoint:        bq.Endpoint,
		}, logger)
	case config.SinkPostgres:
		return postgressink.New(ctx, cfg.PostgresDSN, cfg.PostgresTable, logger)
	case config.SinkSQLite:
		return sqlitesink.New(ctx, cfg.SQLitePath, logger)
	case config.SinkJSONL:
		return jsonlsink.New(cfg.JSONLPath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Kind)
	}
}
