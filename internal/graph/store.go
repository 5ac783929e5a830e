package graph

import (
	"context"

	"github.com/secgraph/secgraph/pkg/models"
)

// Store defines operations on the evidence graph. An explicit handle is
// passed to every component; implementations must be safe for concurrent use
// by multiple readers and writers.
type Store interface {
	// Schema management
	ApplySchema(ctx context.Context) error
	VerifySchema(ctx context.Context) ([]string, error)

	// Idempotent node upserts keyed on natural identifiers
	UpsertFinding(ctx context.Context, f models.Finding) error
	UpsertCWE(ctx context.Context, c models.CWE) error
	UpsertControl(ctx context.Context, c models.Control) error
	UpsertThreat(ctx context.Context, t models.Threat) error
	UpsertService(ctx context.Context, s models.Service) error
	UpsertCVE(ctx context.Context, c models.CVE) error

	// MergeRelationship creates a relationship if absent and updates its
	// properties otherwise. Returns models.ErrDanglingReference when either
	// endpoint is missing and *models.CyclicDependencyError when a service
	// dependency edge would break the DAG invariant.
	MergeRelationship(ctx context.Context, rel models.Relationship) error

	// RefreshControlEvidence recomputes Control.evidence_count as the count
	// of distinct non-waived findings reachable via the violation chain.
	RefreshControlEvidence(ctx context.Context, controlID string) (int, error)

	// Read-only reasoning queries; each runs against a consistent snapshot
	MitigatingControls(ctx context.Context, cweID string) ([]models.ControlMitigation, error)
	BlastRadius(ctx context.Context, cveID string, maxDepth int) ([]models.AffectedService, error)
	ControlCoverage(ctx context.Context, controlID string) (*models.CoverageReport, error)
	AttackPaths(ctx context.Context, category models.StrideCategory) ([]models.AttackPathRow, error)

	// Inspection helpers used by callers and tests
	CountNodes(ctx context.Context, label models.NodeLabel, naturalKey string) (int, error)
	CountRelationships(ctx context.Context, relType models.RelationshipType, fromID, toID string) (int, error)
	GetControl(ctx context.Context, controlID string) (*models.Control, error)

	// Health and lifecycle
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
