package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"onrampquotes/internal/provider/metamask"
)

// Sink kinds.
const (
	SinkBigQuery = "bigquery"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkJSONL    = "jsonl"
)

type API struct {
	QuoteBaseURL         string `json:"quote_base_url"`
	CacheBaseURL         string `json:"cache_base_url"`
	SDKVersion           string `json:"sdk_version"`
	TimeoutSec           int    `json:"timeout_sec"`
	RetryAttempts        int    `json:"retry_attempts"`
	RetryBaseDelayMs     int    `json:"retry_base_delay_ms"`
	MinRequestIntervalMs int    `json:"min_request_interval_ms"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	// MarketRateTTLSec <= 0 keeps a pair's rate for the whole run.
	MarketRateTTLSec int `json:"market_rate_ttl_sec"`
}

// Crypto is a currency to buy, keyed by a human name stored in the
// CryptoCurrency column.
type Crypto struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Region pairs a region code with its fiat currency and the payment methods
// worth querying there.
type Region struct {
	Code           string   `json:"code"`
	Fiat           string   `json:"fiat"`
	PaymentMethods []string `json:"payment_methods"`
}

type Scrape struct {
	Amounts     []float64 `json:"amounts"`
	Cryptos     []Crypto  `json:"cryptos"`
	Regions     []Region  `json:"regions"`
	Concurrency int       `json:"concurrency"`
}

type BigQuery struct {
	ProjectID       string `json:"project_id"`
	DatasetID       string `json:"dataset_id"`
	TableID         string `json:"table_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	// Endpoint points the client at an emulator when set.
	Endpoint string `json:"endpoint"`
}

type Sink struct {
	Kind          string   `json:"kind"`
	BigQuery      BigQuery `json:"bigquery"`
	PostgresDSN   string   `json:"postgres_dsn"`
	PostgresTable string   `json:"postgres_table"`
	SQLitePath    string   `json:"sqlite_path"`
	// JSONLPath "" or "-" writes to stdout.
	JSONLPath string `json:"jsonl_path"`
}

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	API    API    `json:"api"`
	Scrape Scrape `json:"scrape"`
	Sink   Sink   `json:"sink"`
	Server Server `json:"server"`
	Log    Log    `json:"log"`
}

// DefaultAmounts is 30 followed by 100 to 29100 in steps of 1000.
func DefaultAmounts() []float64 {
	out := []float64{30}
	for a := 100; a < 30000; a += 1000 {
		out = append(out, float64(a))
	}
	return out
}

func Default() Config {
	return Config{
		API: API{
			TimeoutSec:           20,
			RetryAttempts:        3,
			RetryBaseDelayMs:     1000,
			MinRequestIntervalMs: 100,
			Burst:                1,
		},
		Scrape: Scrape{
			Amounts: DefaultAmounts(),
			Cryptos: []Crypto{
				{Name: "ETH (Mainnet)", ID: "/currencies/crypto/1/0x0000000000000000000000000000000000000000"},
				{Name: "USDT (Ethereum)", ID: "/currencies/crypto/1/0xdac17f958d2ee523a2206206994597c13d831ec7"},
				{Name: "USDT (BNB Chain)", ID: "/currencies/crypto/56/0x55d398326f99059ff775485246999027b3197955"},
			},
			Regions: []Region{
				{Code: "de", Fiat: "EUR", PaymentMethods: []string{"sepa-bank-transfer", "rev-pay", "debit-credit-card", "paypal", "binance-p2p"}},
				{Code: "gb", Fiat: "GBP", PaymentMethods: []string{"debit-credit-card", "gbp-bank-transfer", "rev-pay", "paypal"}},
				// US regions are state-specific
				{Code: "us-va", Fiat: "USD", PaymentMethods: []string{"venmo", "debit-credit-card", "paypal", "instant-bank-transfer"}},
			},
			Concurrency: 1,
		},
		Sink: Sink{
			Kind: SinkBigQuery,
			BigQuery: BigQuery{
				ProjectID: "unbiased-reporting",
				DatasetID: "articles",
				TableID:   "crypto_quotes",
			},
			PostgresTable: "crypto_quotes",
			SQLitePath:    "crypto_quotes.db",
		},
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Log:    Log{Level: "info", Format: "json"},
	}
}

// Load reads JSON config from path. If path is empty it falls back to
// config.json in the working directory when present; a missing file yields
// defaults. A .env file, when present, is loaded before environment
// overrides are applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("QUOTE_BASE_URL"); v != "" {
		cfg.API.QuoteBaseURL = v
	}
	if v := os.Getenv("CACHE_BASE_URL"); v != "" {
		cfg.API.CacheBaseURL = v
	}
	if v := os.Getenv("SDK_VERSION"); v != "" {
		cfg.API.SDKVersion = v
	}
	envInt("REQUEST_TIMEOUT_SEC", &cfg.API.TimeoutSec)
	envInt("RETRY_ATTEMPTS", &cfg.API.RetryAttempts)
	envInt("RETRY_BASE_DELAY_MS", &cfg.API.RetryBaseDelayMs)
	envInt("MIN_REQUEST_INTERVAL_MS", &cfg.API.MinRequestIntervalMs)
	envInt("MAX_RPM", &cfg.API.MaxRequestsPerMinute)
	envInt("BURST", &cfg.API.Burst)
	envInt("MARKET_RATE_TTL_SEC", &cfg.API.MarketRateTTLSec)

	if v := os.Getenv("AMOUNTS"); v != "" {
		amounts, err := parseAmounts(v)
		if err != nil {
			return err
		}
		cfg.Scrape.Amounts = amounts
	}
	envInt("CONCURRENCY", &cfg.Scrape.Concurrency)

	if v := os.Getenv("SINK"); v != "" {
		cfg.Sink.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("BQ_PROJECT"); v != "" {
		cfg.Sink.BigQuery.ProjectID = v
	}
	if v := os.Getenv("BQ_DATASET"); v != "" {
		cfg.Sink.BigQuery.DatasetID = v
	}
	if v := os.Getenv("BQ_TABLE"); v != "" {
		cfg.Sink.BigQuery.TableID = v
	}
	if v := os.Getenv("BQ_LOCATION"); v != "" {
		cfg.Sink.BigQuery.Location = v
	}
	if v := os.Getenv("BQ_CREDENTIALS_FILE"); v != "" {
		cfg.Sink.BigQuery.CredentialsFile = v
	}
	if v := os.Getenv("BIGQUERY_EMULATOR_HOST"); v != "" {
		cfg.Sink.BigQuery.Endpoint = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Sink.PostgresDSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Sink.SQLitePath = v
	}
	if v := os.Getenv("JSONL_PATH"); v != "" {
		cfg.Sink.JSONLPath = v
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// Validate reports the first setting that would make a run meaningless.
func (c Config) Validate() error {
	s := c.Scrape
	if len(s.Amounts) == 0 {
		return errors.New("scrape.amounts is empty")
	}
	for _, a := range s.Amounts {
		if a <= 0 {
			return fmt.Errorf("scrape.amounts: %v is not positive", a)
		}
	}
	if len(s.Cryptos) == 0 {
		return errors.New("scrape.cryptos is empty")
	}
	for _, cr := range s.Cryptos {
		if strings.TrimSpace(cr.Name) == "" {
			return fmt.Errorf("scrape.cryptos: %q has no name", cr.ID)
		}
		if _, _, err := metamask.ParseCryptoID(cr.ID); err != nil {
			return fmt.Errorf("scrape.cryptos[%s]: %w", cr.Name, err)
		}
	}
	if len(s.Regions) == 0 {
		return errors.New("scrape.regions is empty")
	}
	for _, r := range s.Regions {
		if r.Code == "" || r.Fiat == "" {
			return fmt.Errorf("scrape.regions: region %q needs a code and fiat", r.Code)
		}
	}
	switch c.Sink.Kind {
	case SinkBigQuery:
		bq := c.Sink.BigQuery
		if bq.ProjectID == "" || bq.DatasetID == "" || bq.TableID == "" {
			return errors.New("sink.bigquery needs project_id, dataset_id and table_id")
		}
	case SinkPostgres:
		if c.Sink.PostgresDSN == "" {
			return errors.New("sink.postgres_dsn is empty")
		}
	case SinkSQLite:
		if c.Sink.SQLitePath == "" {
			return errors.New("sink.sqlite_path is empty")
		}
	case SinkJSONL:
	default:
		return fmt.Errorf("sink.kind: unknown sink %q", c.Sink.Kind)
	}
	return nil
}

// TableRef is the fully qualified BigQuery table name.
func (b BigQuery) TableRef() string {
	return b.ProjectID + "." + b.DatasetID + "." + b.TableID
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= 0 {
		*dst = x
	}
}

func parseAmounts(s string) ([]float64, error) {
	parts := SplitCSV(s)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("AMOUNTS: %q: %w", p, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
