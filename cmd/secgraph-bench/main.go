package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/bench"
	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/internal/logging"
)

func main() {
	var (
		configFile = flag.String("config", "config/config.yaml", "Configuration file path")
		backend    = flag.String("backend", "", "Override graph store backend (neo4j or memory)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	var store graph.Store
	switch cfg.Store.Backend {
	case "memory":
		store = graph.NewMemoryStore()
	default:
		store, err = graph.NewNeo4jStore(ctx, cfg.Graph, log)
		if err != nil {
			log.Fatal("failed to open graph store", zap.Error(err))
		}
	}
	defer store.Close(context.Background())

	harness := bench.New(store, *cfg, log)
	report, err := harness.Run(ctx)
	if err != nil {
		log.Fatal("harness run failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("failed to encode report", zap.Error(err))
	}

	if regressed := report.Regressed(); len(regressed) > 0 {
		log.Error("performance budgets exceeded", zap.Strings("stages", regressed))
		os.Exit(1)
	}
	log.Info("all performance budgets met")
}
