package bench

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/internal/loader"
	"github.com/secgraph/secgraph/internal/query"
	"github.com/secgraph/secgraph/pkg/models"
)

// StageResult holds the latency distribution of one harness stage and
// whether it stayed within its budget.
type StageResult struct {
	Stage      string        `json:"stage"`
	Samples    int           `json:"samples"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	BudgetP95  time.Duration `json:"budget_p95"`
	OverBudget bool          `json:"over_budget"`
}

// ThroughputResult holds the load-stage throughput measurement.
type ThroughputResult struct {
	Findings      int     `json:"findings"`
	Seconds       float64 `json:"seconds"`
	FindingsPerS  float64 `json:"findings_per_sec"`
	MinFindingsPS float64 `json:"min_findings_per_sec"`
	OverBudget    bool    `json:"over_budget"`
}

// Report is the outcome of one harness run.
type Report struct {
	Throughput ThroughputResult `json:"throughput"`
	Stages     []StageResult    `json:"stages"`
}

// Regressed returns the names of every stage that missed its budget.
func (r *Report) Regressed() []string {
	var out []string
	if r.Throughput.OverBudget {
		out = append(out, "load")
	}
	for _, s := range r.Stages {
		if s.OverBudget {
			out = append(out, s.Stage)
		}
	}
	return out
}

// Harness drives the loader and query engine against a synthetic corpus and
// checks latency and throughput against the configured budgets.
type Harness struct {
	store  graph.Store
	loader *loader.Loader
	engine *query.Engine
	cfg    config.BenchConfig
	log    *zap.Logger
}

// New creates a harness over the given store.
func New(store graph.Store, cfg config.Config, log *zap.Logger) *Harness {
	return &Harness{
		store:  store,
		loader: loader.New(store, cfg.Loader, log),
		engine: query.NewEngine(store, log),
		cfg:    cfg.Bench,
		log:    log.Named("bench"),
	}
}

// Run executes the full harness: seed, timed load, then the four query
// stages. The report marks every stage that missed its budget; callers
// decide whether that fails the process.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	fixture := GenerateFixture(h.cfg)

	if err := h.store.ApplySchema(ctx); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	if err := h.loader.SeedWeaknessTaxonomy(ctx, fixture.WeaknessTaxonomy()); err != nil {
		return nil, fmt.Errorf("seeding weakness taxonomy: %w", err)
	}
	structural := []models.EvidenceEnvelope{fixture.Inventory, fixture.Framework, fixture.Threats}
	if _, err := h.loader.LoadEvidence(ctx, structural); err != nil {
		return nil, fmt.Errorf("loading structural evidence: %w", err)
	}

	report := &Report{}

	loadStart := time.Now()
	result, err := h.loader.LoadEvidence(ctx, fixture.Findings)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}
	elapsed := time.Since(loadStart).Seconds()
	report.Throughput = ThroughputResult{
		Findings:      result.Loaded,
		Seconds:       elapsed,
		FindingsPerS:  float64(result.Loaded) / elapsed,
		MinFindingsPS: h.cfg.MinFindingsPerS,
	}
	report.Throughput.OverBudget = report.Throughput.FindingsPerS < h.cfg.MinFindingsPerS
	h.log.Info("load stage complete",
		zap.Int("findings", result.Loaded),
		zap.Int("failures", len(result.Failures)),
		zap.Float64("findings_per_sec", report.Throughput.FindingsPerS))

	stages := []struct {
		name   string
		budget time.Duration
		run    func(context.Context, int) error
	}{
		{
			name:   "mitigating-controls",
			budget: h.cfg.SimpleQueryP95,
			run: func(ctx context.Context, i int) error {
				_, err := h.engine.MitigatingControls(ctx, fixture.CWEIDs[i%len(fixture.CWEIDs)])
				return err
			},
		},
		{
			name:   "control-coverage",
			budget: h.cfg.SimpleQueryP95,
			run: func(ctx context.Context, i int) error {
				_, err := h.engine.ControlCoverage(ctx, fixture.ControlIDs[i%len(fixture.ControlIDs)])
				return err
			},
		},
		{
			name:   "blast-radius",
			budget: h.cfg.MultiHopP95,
			run: func(ctx context.Context, i int) error {
				_, err := h.engine.BlastRadius(ctx, fixture.CVEIDs[i%len(fixture.CVEIDs)], h.cfg.MaxDepth)
				return err
			},
		},
		{
			name:   "attack-paths",
			budget: h.cfg.MultiHopP95,
			run: func(ctx context.Context, i int) error {
				_, err := h.engine.AttackPaths(ctx, strideCategories[i%len(strideCategories)])
				return err
			},
		},
	}

	for _, stage := range stages {
		if stage.name == "blast-radius" && len(fixture.CVEIDs) == 0 {
			continue
		}
		res, err := h.runStage(ctx, stage.name, stage.budget, stage.run)
		if err != nil {
			return nil, err
		}
		report.Stages = append(report.Stages, *res)
	}
	return report, nil
}

func (h *Harness) runStage(ctx context.Context, name string, budget time.Duration, run func(context.Context, int) error) (*StageResult, error) {
	samples := make([]time.Duration, 0, h.cfg.Iterations)
	for i := 0; i < h.cfg.Iterations; i++ {
		start := time.Now()
		if err := run(ctx, i); err != nil {
			return nil, fmt.Errorf("stage %s iteration %d: %w", name, i, err)
		}
		samples = append(samples, time.Since(start))
	}
	res := &StageResult{
		Stage:     name,
		Samples:   len(samples),
		P50:       Percentile(samples, 50),
		P95:       Percentile(samples, 95),
		P99:       Percentile(samples, 99),
		BudgetP95: budget,
	}
	res.OverBudget = budget > 0 && res.P95 > budget
	h.log.Info("stage complete",
		zap.String("stage", name),
		zap.Duration("p50", res.P50),
		zap.Duration("p95", res.P95),
		zap.Duration("p99", res.P99),
		zap.Bool("over_budget", res.OverBudget))
	return res, nil
}

// Percentile computes the nearest-rank percentile of a sample set. The input
// slice is not modified.
func Percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
