package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-clmm-go/cmd/clmm/config"
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/ledger"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/defistate/defistate-clmm-go/storage/leveldb"
	"github.com/defistate/defistate-clmm-go/storage/memory"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind a JSON-RPC server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "127.0.0.1:8545", "JSON-RPC listen address (HTTP and websocket)")
	cmd.Flags().String("metrics-listen", "127.0.0.1:9090", "Prometheus listen address, empty disables")
	cmd.Flags().StringSlice("allowed-origins", []string{"*"}, "allowed websocket origins")
	cmd.Flags().String("store", config.StoreMemory, "record store (memory, leveldb)")
	cmd.Flags().String("data-dir", "./data/clmm", "leveldb directory")
	cmd.Flags().Int("leveldb-cache-mb", 16, "leveldb block cache size")
	cmd.Flags().Bool("leveldb-sync", false, "fsync every leveldb commit")
	cmd.Flags().Int("max-swap-iterations", 64, "maximum ticks crossed by one swap")
	cmd.Flags().Uint("event-buffer", 256, "events buffered per subscriber before it is resynced")
	cmd.Flags().StringSlice("fund", nil, "balances credited at start (account:token:amount, comma-separated)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rootLogger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		rootLogger.Error("Failed to open store", "store", cfg.Store, "error", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			rootLogger.Error("Failed to close store", "error", err)
		}
	}()

	balances := ledger.New()
	for _, grant := range cfg.Fund {
		if err := balances.AddBalance(grant.Token, grant.Account, grant.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", grant.Account, err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(&engine.Config{
		Store:             store,
		Transfer:          balances,
		Logger:            rootLogger.With("component", "engine"),
		Registry:          registry,
		MaxSwapIterations: cfg.MaxSwapIterations,
		EventBuffer:       int(cfg.EventBuffer),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize Engine", "error", err)
		return err
	}

	api, err := server.NewAPI(server.Config{
		Engine:     eng,
		Logger:     rootLogger.With("component", "jsonrpc-server"),
		BufferSize: cfg.EventBuffer,
	})
	if err != nil {
		return err
	}
	rpcServer, err := server.NewServer(api)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{{
		Addr:              cfg.Listen,
		Handler:           server.Handler(rpcServer, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			rootLogger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	rootLogger.Info("Server started",
		"store", cfg.Store,
		"listen", cfg.Listen,
		"metrics_listen", cfg.MetricsListen,
		"funded_accounts", len(cfg.Fund),
	)

	select {
	case <-ctx.Done():
		rootLogger.Info("Shutting down.")
	case err = <-errCh:
		rootLogger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			rootLogger.Warn("Shutdown incomplete", "addr", srv.Addr, "error", serr)
		}
	}
	return err
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreLevelDB:
		return leveldb.Open(cfg.DataDir, leveldb.Options{CacheMB: cfg.LevelDBCacheMB, Sync: cfg.LevelDBSync})
	default:
		return memory.New(), nil
	}
}
