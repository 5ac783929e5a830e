package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/internal/loader"
	"github.com/secgraph/secgraph/internal/query"
	"github.com/secgraph/secgraph/internal/reconcile"
)

// Gateway is the thin HTTP surface over the graph engine: one endpoint per
// reasoning query, an evidence load endpoint, and health. Reporting layers
// consume the JSON arrays it returns.
type Gateway struct {
	server     *http.Server
	router     *mux.Router
	store      graph.Store
	engine     *query.Engine
	loader     *loader.Loader
	reconciler *reconcile.Reconciler
	cfg        config.APIConfig
	log        *zap.Logger
}

// NewGateway creates the API gateway.
func NewGateway(cfg config.APIConfig, store graph.Store, engine *query.Engine, l *loader.Loader, r *reconcile.Reconciler, log *zap.Logger) *Gateway {
	g := &Gateway{
		router:     mux.NewRouter(),
		store:      store,
		engine:     engine,
		loader:     l,
		reconciler: r,
		cfg:        cfg,
		log:        log.Named("api"),
	}

	g.setupRoutes()

	var handler http.Handler = g.router
	if cfg.EnableCORS {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}).Handler(handler)
	}

	g.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.requestLogMiddleware, g.timeoutMiddleware)

	api := g.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/evidence", g.handleLoadEvidence).Methods("POST")

	queries := api.PathPrefix("/queries").Subrouter()
	queries.HandleFunc("/mitigating-controls", g.handleMitigatingControls).Methods("GET")
	queries.HandleFunc("/blast-radius", g.handleBlastRadius).Methods("GET")
	queries.HandleFunc("/control-coverage", g.handleControlCoverage).Methods("GET")
	queries.HandleFunc("/attack-paths", g.handleAttackPaths).Methods("GET")

	g.router.HandleFunc("/healthz", g.handleHealth).Methods("GET")
}

func (g *Gateway) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

// timeoutMiddleware bounds every request with the configured timeout so
// caller deadlines propagate into store operations.
func (g *Gateway) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start serves until the listener fails or Stop is called.
func (g *Gateway) Start() error {
	g.log.Info("api gateway listening", zap.String("addr", g.server.Addr))
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// Handler exposes the configured router for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}
