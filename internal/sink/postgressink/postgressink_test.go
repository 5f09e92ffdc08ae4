package postgressink

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/record"
)

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl := createTableSQL("crypto_quotes")
	require.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "crypto_quotes"`)
	require.Contains(t, ddl, `"Timestamp" TIMESTAMPTZ NOT NULL`)
	require.Contains(t, ddl, `"Rank" BIGINT NOT NULL`)
	require.Contains(t, ddl, `"MarketRate" DOUBLE PRECISION,`)
	require.Contains(t, ddl, `"TotalFeePercentage" DOUBLE PRECISION NOT NULL`)
}

func TestSelectSQL(t *testing.T) {
	t.Parallel()

	q := selectSQL("quotes")
	require.Contains(t, q, `FROM "quotes" WHERE "Timestamp" >= $1`)
	require.Contains(t, q, `"Provider", "Rank"`)
}

// TestRoundTrip needs a live database; set POSTGRES_TEST_DSN to run it.
func TestRoundTrip(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	table := "quotes_test_" + time.Now().Format("20060102150405")
	s, err := New(t.Context(), dsn, table, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	defer s.pool.Exec(t.Context(), "DROP TABLE IF EXISTS "+table)

	require.NoError(t, s.Ensure(t.Context()))
	require.NoError(t, s.Ensure(t.Context()))

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []record.Row{
		record.Build(record.Context{At: at, Region: "de", Fiat: "EUR", MarketRate: 2000}, provider.Offer{Provider: "A", Rank: 1, AmountIn: 100, AmountOut: 0.04}),
		record.Build(record.Context{At: at.Add(time.Hour), Region: "gb", Fiat: "GBP"}, provider.Offer{Provider: "B", Rank: 2, AmountIn: 100}),
	}
	require.NoError(t, s.Write(t.Context(), rows))

	got, err := s.ReadRows(t.Context(), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "B", got[0].Provider)
	require.False(t, got[0].MarketRate.Valid)
}
