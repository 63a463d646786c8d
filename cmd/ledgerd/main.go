// Package main runs a ledger node:
// - JSON-RPC on /rpc and the event feed on /ws
// - state and journal in PostgreSQL (or memory)
// - event archive in ClickHouse, synced in the background
// - health, status and Prometheus metrics on a separate address
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
	"syscall"
	"time"

	"token-ledger/internal/api"
	"token-ledger/internal/config"
	"token-ledger/internal/ledger"
	"token-ledger/internal/node"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
	chstore "token-ledger/internal/storage/clickhouse"
	"token-ledger/internal/storage/memory"
	"token-ledger/internal/storage/migrations"
	pgstore "token-ledger/internal/storage/postgres"
	"token-ledger/internal/verification"
)

// Server holds the running node and its listeners.
type Server struct {
	listenAddr      string
	metricsAddr     string
	archiveInterval time.Duration

	node   *node.Node
	api    *api.Server
	logger *log.Logger
}

// allStores holds the storage implementations the node runs on.
type allStores struct {
	ledgerStore   storage.LedgerStore
	eventArchive  storage.EventArchive
	progressStore storage.ArchiveProgressStore
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", config.EnvOr("LEDGER_LISTEN_ADDR", ":8899"), "JSON-RPC and websocket address")
	metricsAddr := flag.String("metrics-addr", config.EnvOr("LEDGER_METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	genesisPath := flag.String("genesis", config.EnvOr("LEDGER_GENESIS", "genesis.json"), "Genesis JSON file")
	archiveInterval := flag.Duration("archive-interval", 10*time.Second, "ClickHouse archive catch-up interval")
	verifyJournal := flag.Bool("verify", true, "Replay the event journal against the stored state on startup")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ledgerd] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	genesis, err := config.Load(*genesisPath)
	if err != nil {
		logger.Fatalf("Failed to load genesis %s: %v", *genesisPath, err)
	}
	params, initial, err := genesis.Build()
	if err != nil {
		logger.Fatalf("Invalid genesis: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	l, err := node.Bootstrap(ctx, stores.ledgerStore, ledger.Options{
		Params: params,
		Logger: log.New(os.Stdout, "[ledger] ", log.LstdFlags|log.Lshortfile),
	}, initial)
	if err != nil {
		logger.Fatalf("Failed to bootstrap ledger: %v", err)
	}
	logger.Printf("Ledger %s ready at seq %d", genesis.Symbol, l.Seq())

	if *verifyJournal {
		start := time.Now()
		report, err := verification.New(verification.Options{Store: stores.ledgerStore}).Verify(ctx)
		if err != nil {
			logger.Fatalf("Failed to verify journal: %v", err)
		}
		if !report.Match {
			for _, d := range report.Divergences {
				logger.Printf("Journal divergence: %s", d)
			}
			logger.Fatalf("Stored state does not match its journal (%d divergences)", len(report.Divergences))
		}
		logger.Printf("Verified %d events in %v", report.Events, time.Since(start))
	}

	n, err := node.New(node.Options{
		Ledger:   l,
		Store:    stores.ledgerStore,
		Archive:  stores.eventArchive,
		Progress: stores.progressStore,
		Metrics:  observability.DefaultMetrics,
		Logger:   log.New(os.Stdout, "[node] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create node: %v", err)
	}
	defer n.Close()

	apiServer, err := api.NewServer(api.Options{
		Node:    n,
		Metrics: observability.DefaultMetrics,
		Logger:  log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create API server: %v", err)
	}

	server := &Server{
		listenAddr:      *listenAddr,
		metricsAddr:     *metricsAddr,
		archiveInterval: *archiveInterval,
		node:            n,
		api:             apiServer,
		logger:          logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*metricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores opens the configured stores and applies migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			ledgerStore:   memory.NewLedgerStore(),
			eventArchive:  memory.NewEventArchive(),
			progressStore: memory.NewArchiveProgressStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	for _, name := range applied {
		logger.Printf("Applied postgres migration %s", name)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		ledgerStore:   pgstore.NewLedgerStore(pool),
		progressStore: pgstore.NewArchiveProgressStore(pool),
		eventArchive:  chstore.NewEventArchive(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run serves the API and keeps the archive in sync until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting ledger node...")

	if err := s.node.SyncArchive(ctx); err != nil {
		return fmt.Errorf("initial archive sync: %w", err)
	}

	// Create error channel for goroutines
	errCh := make(chan error, 2)

	go func() {
		err := s.node.RunArchiveSync(ctx, s.archiveInterval)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("archive sync: %w", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Printf("Serving JSON-RPC on %s/rpc and events on %s/ws", s.listenAddr, s.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	go s.trackUptime(ctx)

	// Wait for context cancellation or error
	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Websocket connections are hijacked; closing the node ends their feeds.
	s.node.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("API server shutdown: %v", err)
	}
	return runErr
}

// trackUptime advances the uptime counter once per second.
func (s *Server) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DefaultMetrics.UptimeSeconds.Inc()
		}
	}
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// handleStatus returns node status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.node.Status())
}
