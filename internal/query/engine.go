package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/pkg/models"
)

// DefaultBlastRadiusDepth bounds dependency traversal when the caller does
// not supply a depth. The dependency graph is acyclic but can be arbitrarily
// deep; the cap keeps latency predictable.
const DefaultBlastRadiusDepth = 2

// Engine is the fixed library of parameterized reasoning queries. All
// queries are read-only and side-effect-free; retry policy belongs to the
// caller.
type Engine struct {
	store graph.Store
	log   *zap.Logger
}

// NewEngine creates a query engine over the given store.
func NewEngine(store graph.Store, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log.Named("query")}
}

// MitigatingControls returns the controls violated by a CWE, annotated with
// the CWE's distinct finding count, ordered by control_id ascending.
func (e *Engine) MitigatingControls(ctx context.Context, cweID string) ([]models.ControlMitigation, error) {
	if cweID == "" {
		return nil, fmt.Errorf("cwe_id is required: %w", models.ErrInvalidArgument)
	}
	start := time.Now()
	rows, err := e.store.MitigatingControls(ctx, cweID)
	if err != nil {
		return nil, models.WrapDeadline("mitigating controls", err)
	}
	e.log.Debug("mitigating controls",
		zap.String("cwe_id", cweID),
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)))
	return rows, nil
}

// BlastRadius returns the distinct union of services affected by a CVE.
// A negative maxDepth selects the default depth bound; depth 0 returns only
// directly affected services.
func (e *Engine) BlastRadius(ctx context.Context, cveID string, maxDepth int) ([]models.AffectedService, error) {
	if cveID == "" {
		return nil, fmt.Errorf("cve_id is required: %w", models.ErrInvalidArgument)
	}
	if maxDepth < 0 {
		maxDepth = DefaultBlastRadiusDepth
	}
	start := time.Now()
	rows, err := e.store.BlastRadius(ctx, cveID, maxDepth)
	if err != nil {
		return nil, models.WrapDeadline("blast radius", err)
	}
	e.log.Debug("blast radius",
		zap.String("cve_id", cveID),
		zap.Int("max_depth", maxDepth),
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)))
	return rows, nil
}

// ControlCoverage aggregates finding evidence for one control.
func (e *Engine) ControlCoverage(ctx context.Context, controlID string) (*models.CoverageReport, error) {
	if controlID == "" {
		return nil, fmt.Errorf("control_id is required: %w", models.ErrInvalidArgument)
	}
	start := time.Now()
	report, err := e.store.ControlCoverage(ctx, controlID)
	if err != nil {
		return nil, models.WrapDeadline("control coverage", err)
	}
	e.log.Debug("control coverage",
		zap.String("control_id", controlID),
		zap.Int("total_findings", report.TotalFindings),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

// AttackPaths surfaces concrete weak points for a STRIDE category: threat,
// exposed service, and the unmitigated weakness behind it.
func (e *Engine) AttackPaths(ctx context.Context, category models.StrideCategory) ([]models.AttackPathRow, error) {
	switch category {
	case models.StrideSpoofing, models.StrideTampering, models.StrideRepudiation,
		models.StrideInfoDisclosure, models.StrideDenialOfService, models.StrideElevation:
	default:
		return nil, fmt.Errorf("invalid STRIDE category %q: %w", category, models.ErrInvalidArgument)
	}
	start := time.Now()
	rows, err := e.store.AttackPaths(ctx, category)
	if err != nil {
		return nil, models.WrapDeadline("attack paths", err)
	}
	e.log.Debug("attack paths",
		zap.String("stride", string(category)),
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)))
	return rows, nil
}
