// Package main runs the blockchain data collector service:
// - Source adapters (Bitcoin via Esplora REST, Solana via JSON-RPC)
// - Orchestrator polling loop with safety circuit breaker
// - HTTP control API (start/stop/status/health) and Prometheus metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"blockchain-collector/internal/collector"
	"blockchain-collector/internal/esplora"
	"blockchain-collector/internal/observability"
	"blockchain-collector/internal/orchestrator"
	"blockchain-collector/internal/quality"
	"blockchain-collector/internal/solana"
	"blockchain-collector/internal/storage"
	chstore "blockchain-collector/internal/storage/clickhouse"
	"blockchain-collector/internal/storage/memory"
	pgstore "blockchain-collector/internal/storage/postgres"
)

// healthWindow is the trailing window inspected by the /health endpoint.
const healthWindow = 5 * time.Minute

// staleAfter is how long a source may go without a collect before /health
// reports it degraded.
const staleAfter = 60 * time.Second

// Server holds the control API dependencies.
type Server struct {
	orch       *orchestrator.Orchestrator
	stateStore storage.StateStore
	health     storage.MetricsReader
	logger     *log.Logger
}

// allStores holds the storage implementations behind their interfaces.
type allStores struct {
	sink       storage.RecordSink
	totals     storage.TotalsReader
	metrics    storage.MetricsReader
	stateStore storage.StateStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	esploraEndpoint := flag.String("esplora-endpoint", envOr("ESPLORA_API_URL", "https://blockstream.info/api"), "Esplora REST API base URL")
	solanaEndpoint := flag.String("solana-endpoint", envOr("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"), "Solana JSON-RPC endpoint")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for control state (optional, defaults to ClickHouse)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of ClickHouse")
	bitcoinEnabled := flag.Bool("bitcoin-enabled", true, "Collect Bitcoin data")
	solanaEnabled := flag.Bool("solana-enabled", true, "Collect Solana data")
	interval := flag.Duration("interval", orchestrator.DefaultInterval, "Interval between collection cycles")
	maxCollectionTime := flag.Duration("max-collection-time", orchestrator.DefaultMaxCollectionTime, "Safety limit: stop after this much collection time")
	maxDataSizeGB := flag.Float64("max-data-size-gb", 5, "Safety limit: stop once stored data exceeds this size")
	autostart := flag.Bool("autostart", false, "Begin collection immediately instead of waiting for POST /start")
	httpAddr := flag.String("http-addr", ":8000", "Control API and metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[collector] ", log.LstdFlags)

	if !*useMemory && *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required (use --use-memory for in-memory storage)")
	}
	if !*bitcoinEnabled && !*solanaEnabled {
		logger.Fatal("at least one of --bitcoin-enabled / --solana-enabled must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *clickhouseDSN, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	collectors := []collector.Collector{
		collector.NewBitcoin(collector.BitcoinOptions{
			Client:    esplora.NewClient(*esploraEndpoint),
			Sink:      stores.sink,
			Validator: quality.NewValidator(),
			Enabled:   *bitcoinEnabled,
			Logger:    log.New(os.Stdout, "[bitcoin] ", log.LstdFlags),
		}),
		collector.NewSolana(collector.SolanaOptions{
			Client:    solana.NewClient(*solanaEndpoint),
			Sink:      stores.sink,
			Validator: quality.NewValidator(),
			Enabled:   *solanaEnabled,
			Logger:    log.New(os.Stdout, "[solana] ", log.LstdFlags),
		}),
	}

	orch := orchestrator.New(orchestrator.Options{
		Collectors:        collectors,
		StateStore:        stores.stateStore,
		Totals:            stores.totals,
		Interval:          *interval,
		MaxCollectionTime: *maxCollectionTime,
		MaxDataSize:       uint64(*maxDataSizeGB * (1 << 30)),
		Logger:            log.New(os.Stdout, "[orchestrator] ", log.LstdFlags),
	})

	server := &Server{
		orch:       orch,
		stateStore: stores.stateStore,
		health:     stores.metrics,
		logger:     logger,
	}

	if *autostart {
		if err := orch.Start(ctx); err != nil {
			logger.Fatalf("Failed to start collection: %v", err)
		}
	}

	httpServer := &http.Server{Addr: *httpAddr, Handler: server.routes()}
	go func() {
		logger.Printf("Starting HTTP server on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

	go func() {
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Stop(shutdownCtx); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		logger.Printf("Stop collection: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the sink, health reader and state store.
func createStores(ctx context.Context, clickhouseDSN, postgresDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		sink := memory.NewSink()
		return &allStores{
			sink:       sink,
			totals:     sink,
			metrics:    sink,
			stateStore: memory.NewStateStore(),
		}, func() {}, nil
	}

	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	sink := chstore.NewSink(conn)
	stores := &allStores{
		sink:       sink,
		totals:     sink,
		metrics:    sink,
		stateStore: chstore.NewStateStore(conn),
	}
	cleanup := func() { conn.Close() }

	// Control state prefers Postgres when a DSN is given: a single row
	// upserted in place instead of ReplacingMergeTree versions.
	if postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		stores.stateStore = pgstore.NewStateStore(pool)
		cleanup = func() {
			pool.Close()
			conn.Close()
		}
	}

	return stores, cleanup, nil
}

// routes builds the control API mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	IsRunning      bool       `json:"is_running"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	TotalRecords   uint64     `json:"total_records"`
	TotalSizeBytes uint64     `json:"total_size_bytes"`
}

// SourceHealthResponse is one source entry in the /health response.
type SourceHealthResponse struct {
	Status           string    `json:"status"`
	LastCollect      time.Time `json:"last_collect"`
	RecordsCollected uint64    `json:"records_collected"`
	ErrorCount       uint64    `json:"error_count"`
	AvgDurationMS    float64   `json:"avg_duration_ms"`
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status  string                          `json:"status"`
	Sources map[string]SourceHealthResponse `json:"sources"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Start(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrStopping):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
	case err != nil:
		s.logger.Printf("start collection: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to start collection"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Stop(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrNotRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
	case err != nil:
		s.logger.Printf("stop collection: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to stop collection"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.stateStore.Get(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, StatusResponse{})
			return
		}
		s.logger.Printf("read collection state: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to read collection state"})
		return
	}

	resp := StatusResponse{
		IsRunning:      st.IsRunning,
		TotalRecords:   st.TotalRecords,
		TotalSizeBytes: st.TotalSizeBytes,
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = &st.StartedAt
	}
	if !st.StoppedAt.IsZero() {
		resp.StoppedAt = &st.StoppedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sources, err := s.health.RecentMetrics(r.Context(), healthWindow)
	if err != nil {
		s.logger.Printf("read recent metrics: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to read collection metrics"})
		return
	}

	resp := HealthResponse{
		Status:  "healthy",
		Sources: make(map[string]SourceHealthResponse, len(sources)),
	}
	for _, src := range sources {
		status := "healthy"
		if src.ErrorCount > 0 || time.Since(src.LastCollect) > staleAfter {
			status = "degraded"
			resp.Status = "degraded"
		}
		resp.Sources[src.Source] = SourceHealthResponse{
			Status:           status,
			LastCollect:      src.LastCollect,
			RecordsCollected: src.RecordsCollected,
			ErrorCount:       src.ErrorCount,
			AvgDurationMS:    src.AvgDurationMS,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// envOr returns the env var value or a fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
