package sink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"onrampquotes/internal/config"
)

func TestOpen_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), config.Sink{Kind: "parquet"}, zap.NewNop())
	require.ErrorIs(t, err, ErrUnknownSink)
}

func TestOpen_LocalKinds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, cfg := range []config.Sink{
		{Kind: config.SinkSQLite, SQLitePath: filepath.Join(dir, "q.db")},
		{Kind: config.SinkJSONL, JSONLPath: filepath.Join(dir, "q.jsonl")},
	} {
		s, err := Open(t.Context(), cfg, zap.NewNop())
		require.NoErrorf(t, err, "kind %s", cfg.Kind)
		require.NoError(t, s.Ensure(t.Context()))
		require.NoError(t, s.Close())
	}
}
