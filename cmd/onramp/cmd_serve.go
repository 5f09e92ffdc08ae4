package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"onrampquotes/internal/aggregate"
	"onrampquotes/internal/config"
	"onrampquotes/internal/provider"
	"onrampquotes/internal/record"
	"onrampquotes/internal/sink"
	"onrampquotes/internal/sink/jsonlsink"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live quotes and stored summaries over HTTP",
	Long: `Starts an HTTP server with:
  GET  /healthz
  GET  /api/quotes?region=de&crypto=ETH%20(Mainnet)&amount=1100&payment=paypal
  POST /api/quotes  {"region":"de","crypto":"...","amount":1100,"payment_methods":["paypal"]}
  GET  /api/summary?since=168h&by_payment=true&cheapest=false`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	port := cfg.Server.Port
	if servePort != "" {
		port = servePort
	}

	s := &server{
		provider: newProvider(cfg.API, logger),
		plan:     cfg.Scrape,
		timeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		logger:   logger.Named("http"),
	}
	store, err := sink.Open(ctx, cfg.Sink, logger.Named("sink"))
	if err != nil {
		logger.Warn("sink unavailable; /api/summary disabled", zap.Error(err))
	} else {
		defer store.Close()
		s.reader = store
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.requestTimeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type server struct {
	provider provider.Provider
	reader   sink.Reader
	plan     config.Scrape
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type quotesResponse struct {
	Rows   []record.Row `json:"rows"`
	Errors []string     `json:"errors,omitempty"`
}

type summaryResponse struct {
	Rows      int                 `json:"rows"`
	Pairs     [][2]string         `json:"pairs"`
	Summaries []aggregate.Summary `json:"summaries"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/quotes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleGetQuotes(w, r)
		case http.MethodPost:
			s.handlePostQuotes(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleSummary(w, r)
	})
	return s.withHeaders(s.withGzip(s.recoverPanic(s.limitBody(maxQueryBody, mux))))
}

type quotesQuery struct {
	Region         string   `json:"region"`
	Crypto         string   `json:"crypto"`
	Amount         float64  `json:"amount"`
	PaymentMethods []string `json:"payment_methods"`
}

func (s *server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		http.Error(w, "amount must be a number", http.StatusBadRequest)
		return
	}
	s.writeQuotes(w, r.Context(), quotesQuery{
		Region:         q.Get("region"),
		Crypto:         q.Get("crypto"),
		Amount:         amount,
		PaymentMethods: config.SplitCSV(q.Get("payment")),
	})
}

func (s *server) handlePostQuotes(w http.ResponseWriter, r *http.Request) {
	var b quotesQuery
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	s.writeQuotes(w, r.Context(), b)
}

func (s *server) writeQuotes(w http.ResponseWriter, rctx context.Context, q quotesQuery) {
	if q.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	region, ok := s.region(q.Region)
	if !ok {
		http.Error(w, "unknown region", http.StatusBadRequest)
		return
	}
	crypto, ok := s.crypto(q.Crypto)
	if !ok {
		http.Error(w, "unknown crypto", http.StatusBadRequest)
		return
	}
	methods := q.PaymentMethods
	if len(methods) == 0 {
		methods = region.PaymentMethods
	}

	ctx, cancel := context.WithTimeout(rctx, s.requestTimeout())
	defer cancel()

	rate, err := s.provider.MarketRate(ctx, crypto.ID, region.Fiat)
	if err != nil {
		s.logger.Warn("market rate unavailable", zap.String("crypto", crypto.Name), zap.String("fiat", region.Fiat), zap.Error(err))
		rate = 0
	}

	// fan-out to payment methods concurrently; collect partial results in order
	type result struct {
		rows []record.Row
		err  error
	}
	results := make([]result, len(methods))
	var wg sync.WaitGroup
	for i, m := range methods {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := provider.Request{
				Region:        region.Code,
				Fiat:          region.Fiat,
				Amount:        q.Amount,
				PaymentMethod: m,
				CryptoID:      crypto.ID,
			}
			offers, err := s.provider.Quotes(ctx, req)
			if err != nil {
				results[i] = result{err: err}
				return
			}
			results[i] = result{rows: buildRows(req, crypto.Name, rate, offers, s.clock())}
		}()
	}
	wg.Wait()

	resp := quotesResponse{Rows: []record.Row{}}
	for i, res := range results {
		if res.err != nil {
			resp.Errors = append(resp.Errors, methods[i]+": "+res.err.Error())
			continue
		}
		resp.Rows = append(resp.Rows, res.rows...)
	}
	if len(resp.Rows) == 0 && len(resp.Errors) > 0 {
		http.Error(w, strings.Join(resp.Errors, "; "), http.StatusBadGateway)
		return
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		http.Error(w, "no readable sink configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, "since must be a duration like 24h", http.StatusBadRequest)
			return
		}
		since = s.clock().Add(-d)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()
	rows, err := s.reader.ReadRows(ctx, since)
	if errors.Is(err, jsonlsink.ErrNotReadable) {
		http.Error(w, "sink is not readable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Error("read rows", zap.Error(err))
		http.Error(w, "failed to read rows", http.StatusBadGateway)
		return
	}

	var out []aggregate.Summary
	if q.Get("by_payment") == "true" {
		out = aggregate.Summarize(rows)
	} else {
		out = aggregate.ByProvider(rows)
	}
	if q.Get("cheapest") == "true" {
		out = aggregate.Cheapest(out)
	}
	writeResponse(w, http.StatusOK, summaryResponse{Rows: len(rows), Pairs: aggregate.Pairs(rows), Summaries: out})
}

// region finds a configured region by code; empty picks the first.
func (s *server) region(code string) (config.Region, bool) {
	if len(s.plan.Regions) == 0 {
		return config.Region{}, false
	}
	if code == "" {
		return s.plan.Regions[0], true
	}
	for _, r := range s.plan.Regions {
		if strings.EqualFold(r.Code, code) {
			return r, true
		}
	}
	return config.Region{}, false
}

// crypto finds a configured crypto by name or id; empty picks the first.
func (s *server) crypto(key string) (config.Crypto, bool) {
	if len(s.plan.Cryptos) == 0 {
		return config.Crypto{}, false
	}
	if key == "" {
		return s.plan.Cryptos[0], true
	}
	for _, c := range s.plan.Cryptos {
		if c.Name == key || c.ID == key {
			return c, true
		}
	}
	return config.Crypto{}, false
}

func (s *server) requestTimeout() time.Duration {
	if s.timeout <= 0 {
		return 15 * time.Second
	}
	return s.timeout
}

func (s *server) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func writeResponse(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// maxQueryBody bounds POST /api/quotes bodies.
const maxQueryBody = 64 << 10

// routeMethods is what each route answers to, advertised on CORS preflights.
var routeMethods = map[string]string{
	"/healthz":     "GET,OPTIONS",
	"/api/quotes":  "GET,POST,OPTIONS",
	"/api/summary": "GET,OPTIONS",
}

// withHeaders sets the JSON content type and answers CORS preflights for known routes.
func (s *server) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Access-Control-Allow-Origin", "*")
		methods, known := routeMethods[r.URL.Path]
		if known {
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			if !known {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var gzipPool = sync.Pool{New: func() any {
	// payloads are JSON; favour speed
	w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
	return w
}}

// withGzip compresses bodies for clients that accept gzip.
func (s *server) withGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		if r.Method == http.MethodHead || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzipPool.Get().(*gzip.Writer)
		gz.Reset(w)
		gw := &gzipResponseWriter{ResponseWriter: w, gz: gz}
		defer func() {
			if gw.compress {
				if err := gz.Close(); err != nil {
					s.logger.Debug("gzip close", zap.String("path", r.URL.Path), zap.Error(err))
				}
			}
			gz.Reset(io.Discard)
			gzipPool.Put(gz)
		}()
		next.ServeHTTP(gw, r)
	})
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(enc) != "gzip" {
			continue
		}
		q := strings.ReplaceAll(params, " ", "")
		return q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}
	return false
}

// gzipResponseWriter decides on compression when the status is known.
// Bodiless statuses pass through untouched.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
	compress    bool
}

func (g *gzipResponseWriter) WriteHeader(status int) {
	if g.wroteHeader {
		return
	}
	g.wroteHeader = true
	if status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK {
		g.compress = true
		g.Header().Set("Content-Encoding", "gzip")
		g.Header().Del("Content-Length")
	}
	g.ResponseWriter.WriteHeader(status)
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	if !g.compress {
		return g.ResponseWriter.Write(b)
	}
	return g.gz.Write(b)
}

func (g *gzipResponseWriter) Flush() {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	if g.compress {
		_ = g.gz.Flush()
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipResponseWriter) Unwrap() http.ResponseWriter { return g.ResponseWriter }

// limitBody rejects POST bodies over limit bytes.
func (s *server) limitBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			if r.ContentLength > limit {
				s.logger.Warn("request body too large", zap.String("path", r.URL.Path), zap.Int64("length", r.ContentLength))
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func (s *server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
