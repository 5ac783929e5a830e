package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/api"
	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/internal/ingest"
	"github.com/secgraph/secgraph/internal/loader"
	"github.com/secgraph/secgraph/internal/logging"
	"github.com/secgraph/secgraph/internal/query"
	"github.com/secgraph/secgraph/internal/reconcile"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "config/config.yaml", "Configuration file path")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("secgraph version %s\nCommit: %s\nBuilt: %s\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting secgraph",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Store.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open graph store", zap.Error(err))
	}
	defer store.Close(context.Background())

	if err := store.ApplySchema(ctx); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}
	if _, err := store.VerifySchema(ctx); err != nil {
		// the error itself names the missing types
		log.Fatal("schema verification failed", zap.Error(err))
	}

	evidenceLoader := loader.New(store, cfg.Loader, log)
	engine := query.NewEngine(store, log)
	reconciler := reconcile.New(store, cfg.Reconcile, log)

	if cfg.Reconcile.Enabled {
		go reconciler.Run(ctx)
	}

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer = ingest.NewConsumer(cfg.Kafka, evidenceLoader, reconciler, log)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("evidence consumer stopped", zap.Error(err))
			}
		}()
	}

	gateway := api.NewGateway(cfg.API, store, engine, evidenceLoader, reconciler, log)
	errCh := make(chan error, 1)
	go func() {
		if err := gateway.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("api gateway failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		log.Warn("gateway shutdown error", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn("consumer shutdown error", zap.Error(err))
		}
	}
	cancel()
	log.Info("secgraph stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (graph.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return graph.NewMemoryStore(), nil
	default:
		return graph.NewNeo4jStore(ctx, cfg.Graph, log)
	}
}
