package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secgraph/secgraph/pkg/models"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.ApplySchema(context.Background()))
	return s
}

func seedService(t *testing.T, s *MemoryStore, id string, criticality models.Criticality) {
	t.Helper()
	require.NoError(t, s.UpsertService(context.Background(), models.Service{
		ServiceID:   id,
		Name:        id,
		Criticality: criticality,
	}))
}

func dependsOn(t *testing.T, s *MemoryStore, from, to string) error {
	t.Helper()
	return s.MergeRelationship(context.Background(), models.Relationship{
		Type:   models.RelServiceDependsOnService,
		FromID: from,
		ToID:   to,
	})
}

func TestVerifySchemaBeforeApply(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.VerifySchema(context.Background())

	var incomplete *models.SchemaIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Contains(t, incomplete.Missing, "Finding")
	assert.Contains(t, incomplete.Missing, "SERVICE_DEPENDS_ON_SERVICE")
}

func TestApplySchemaIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.ApplySchema(ctx))
	require.NoError(t, s.ApplySchema(ctx))

	present, err := s.VerifySchema(ctx)
	require.NoError(t, err)
	assert.Len(t, present, 14)
}

func TestUpsertFindingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := models.Finding{FindingID: "finding-1", Severity: models.SeverityHigh, Status: models.FindingStatusOpen}
	require.NoError(t, s.UpsertFinding(ctx, f))
	require.NoError(t, s.UpsertFinding(ctx, f))

	count, err := s.CountNodes(ctx, models.LabelFinding, "finding-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertUpdatesMutableProperties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFinding(ctx, models.Finding{FindingID: "finding-1", Status: models.FindingStatusOpen}))
	require.NoError(t, s.UpsertFinding(ctx, models.Finding{FindingID: "finding-1", Status: models.FindingStatusPatched}))

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, models.FindingStatusPatched, s.findings["finding-1"].Status)
}

func TestMergeRelationshipIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedService(t, s, "svc-a", models.CriticalityHigh)
	seedService(t, s, "svc-b", models.CriticalityLow)

	require.NoError(t, dependsOn(t, s, "svc-a", "svc-b"))
	require.NoError(t, dependsOn(t, s, "svc-a", "svc-b"))

	count, err := s.CountRelationships(ctx, models.RelServiceDependsOnService, "svc-a", "svc-b")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMergeRelationshipDanglingEndpoint(t *testing.T) {
	s := newTestStore(t)
	seedService(t, s, "svc-a", models.CriticalityHigh)

	err := dependsOn(t, s, "svc-a", "svc-missing")
	assert.ErrorIs(t, err, models.ErrDanglingReference)

	err = dependsOn(t, s, "svc-missing", "svc-a")
	assert.ErrorIs(t, err, models.ErrDanglingReference)
}

func TestDependencyCycleRejected(t *testing.T) {
	s := newTestStore(t)

	seedService(t, s, "svc-a", models.CriticalityHigh)
	seedService(t, s, "svc-b", models.CriticalityHigh)
	seedService(t, s, "svc-c", models.CriticalityHigh)

	require.NoError(t, dependsOn(t, s, "svc-a", "svc-b"))
	require.NoError(t, dependsOn(t, s, "svc-b", "svc-c"))

	err := dependsOn(t, s, "svc-c", "svc-a")
	var cyclic *models.CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, "svc-c", cyclic.FromID)
	assert.Equal(t, "svc-a", cyclic.ToID)

	// the rejected edge must not be persisted
	count, err := s.CountRelationships(context.Background(), models.RelServiceDependsOnService, "svc-c", "svc-a")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSelfDependencyRejected(t *testing.T) {
	s := newTestStore(t)
	seedService(t, s, "svc-a", models.CriticalityHigh)

	err := dependsOn(t, s, "svc-a", "svc-a")
	var cyclic *models.CyclicDependencyError
	assert.ErrorAs(t, err, &cyclic)
}

// buildEvidenceGraph wires a small fixture:
//
//	finding-1 (open)    -> CWE-79  -> AC-3
//	finding-2 (patched) -> CWE-79
//	finding-3 (waived)  -> CWE-79
//	finding-4 (open)    -> CWE-89 -> AC-3, SC-8
func buildEvidenceGraph(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	for _, cwe := range []string{"CWE-79", "CWE-89"} {
		require.NoError(t, s.UpsertCWE(ctx, models.CWE{CWEID: cwe, Title: cwe}))
	}
	require.NoError(t, s.UpsertControl(ctx, models.Control{
		ControlID: "AC-3", Framework: models.FrameworkNIST80053, Title: "Access Enforcement", Status: models.ControlStatusPartial,
	}))
	require.NoError(t, s.UpsertControl(ctx, models.Control{
		ControlID: "SC-8", Framework: models.FrameworkNIST80053, Title: "Transmission Confidentiality", Status: models.ControlStatusImplemented,
	}))

	findings := []models.Finding{
		{FindingID: "finding-1", CWEID: "CWE-79", Status: models.FindingStatusOpen},
		{FindingID: "finding-2", CWEID: "CWE-79", Status: models.FindingStatusPatched},
		{FindingID: "finding-3", CWEID: "CWE-79", Status: models.FindingStatusWaived},
		{FindingID: "finding-4", CWEID: "CWE-89", Status: models.FindingStatusOpen},
	}
	for _, f := range findings {
		require.NoError(t, s.UpsertFinding(ctx, f))
		require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
			Type: models.RelFindingHasCWE, FromID: f.FindingID, ToID: f.CWEID,
		}))
	}

	for _, edge := range []struct{ cwe, control string }{
		{"CWE-79", "AC-3"},
		{"CWE-89", "AC-3"},
		{"CWE-89", "SC-8"},
	} {
		require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
			Type: models.RelCWEViolatesControl, FromID: edge.cwe, ToID: edge.control,
		}))
	}
}

func TestMitigatingControlsOrderedByControlID(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)

	rows, err := s.MitigatingControls(context.Background(), "CWE-89")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AC-3", rows[0].ControlID)
	assert.Equal(t, "SC-8", rows[1].ControlID)
	assert.Equal(t, 1, rows[0].FindingCount)
}

func TestMitigatingControlsUnknownCWE(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)

	rows, err := s.MitigatingControls(context.Background(), "CWE-0")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRefreshControlEvidenceExcludesWaived(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)
	ctx := context.Background()

	// CWE-79 contributes finding-1 and finding-2; finding-3 is waived.
	// CWE-89 contributes finding-4.
	count, err := s.RefreshControlEvidence(ctx, "AC-3")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ctrl, err := s.GetControl(ctx, "AC-3")
	require.NoError(t, err)
	assert.Equal(t, 3, ctrl.EvidenceCount)
}

func TestRefreshControlEvidenceUnknownControl(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RefreshControlEvidence(context.Background(), "AC-0")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestControlUpsertPreservesEvidenceCount(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)
	ctx := context.Background()

	_, err := s.RefreshControlEvidence(ctx, "AC-3")
	require.NoError(t, err)

	// A framework re-import must not clobber the derived count.
	require.NoError(t, s.UpsertControl(ctx, models.Control{
		ControlID: "AC-3", Framework: models.FrameworkNIST80053, Title: "Access Enforcement", Status: models.ControlStatusPartial,
	}))
	ctrl, err := s.GetControl(ctx, "AC-3")
	require.NoError(t, err)
	assert.Equal(t, 3, ctrl.EvidenceCount)
}

func TestControlCoverage(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)

	report, err := s.ControlCoverage(context.Background(), "AC-3")
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalFindings)
	assert.Equal(t, 1, report.PatchedFindings)
	require.NotNil(t, report.PatchedPct)
	assert.Equal(t, 33, *report.PatchedPct)
	assert.Equal(t, []string{"CWE-79", "CWE-89"}, report.RelatedCWEIDs)
}

func TestControlCoverageNoEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertControl(ctx, models.Control{
		ControlID: "AU-2", Framework: models.FrameworkNIST80053, Title: "Audit Events", Status: models.ControlStatusImplemented,
	}))

	report, err := s.ControlCoverage(ctx, "AU-2")
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalFindings)
	assert.Nil(t, report.PatchedPct, "zero evidence must yield null patched_pct, not 0 or 100")
}

func TestControlCoverageUnknownControl(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ControlCoverage(context.Background(), "AC-0")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// buildBlastRadiusGraph wires the dependency chain
//
//	api-gateway -> auth-service -> logging-service -> archive-service
//
// with CVE-2024-1111 hitting auth-service through finding-cve.
func buildBlastRadiusGraph(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	seedService(t, s, "archive-service", models.CriticalityLow)
	seedService(t, s, "logging-service", models.CriticalityMedium)
	seedService(t, s, "auth-service", models.CriticalityCritical)
	seedService(t, s, "api-gateway", models.CriticalityHigh)

	require.NoError(t, dependsOn(t, s, "api-gateway", "auth-service"))
	require.NoError(t, dependsOn(t, s, "auth-service", "logging-service"))
	require.NoError(t, dependsOn(t, s, "logging-service", "archive-service"))

	require.NoError(t, s.UpsertCVE(ctx, models.CVE{CVEID: "CVE-2024-1111"}))
	require.NoError(t, s.UpsertFinding(ctx, models.Finding{FindingID: "finding-cve", Status: models.FindingStatusOpen}))
	require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
		Type: models.RelFindingLinksCVE, FromID: "finding-cve", ToID: "CVE-2024-1111",
	}))
	require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
		Type: models.RelFindingAffectsService, FromID: "finding-cve", ToID: "auth-service",
	}))
}

func TestBlastRadiusDepthZero(t *testing.T) {
	s := newTestStore(t)
	buildBlastRadiusGraph(t, s)

	rows, err := s.BlastRadius(context.Background(), "CVE-2024-1111", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "auth-service", rows[0].ServiceID)
	assert.False(t, rows[0].Transitive)
	assert.Equal(t, 0, rows[0].Depth)
}

func TestBlastRadiusDepthMonotonicity(t *testing.T) {
	s := newTestStore(t)
	buildBlastRadiusGraph(t, s)
	ctx := context.Background()

	prev := 0
	for depth := 0; depth <= 4; depth++ {
		rows, err := s.BlastRadius(ctx, "CVE-2024-1111", depth)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(rows), prev, "depth %d shrank the result set", depth)
		prev = len(rows)
	}
	// chain exhausted at depth 2 from auth-service
	rows, err := s.BlastRadius(ctx, "CVE-2024-1111", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestBlastRadiusOrderedByCriticality(t *testing.T) {
	s := newTestStore(t)
	buildBlastRadiusGraph(t, s)

	rows, err := s.BlastRadius(context.Background(), "CVE-2024-1111", 2)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "auth-service", rows[0].ServiceID)
	assert.Equal(t, "logging-service", rows[1].ServiceID)
	assert.Equal(t, "archive-service", rows[2].ServiceID)
	assert.True(t, rows[1].Transitive)
	assert.Equal(t, 1, rows[1].Depth)
	assert.Equal(t, 2, rows[2].Depth)
}

func TestBlastRadiusUnknownCVE(t *testing.T) {
	s := newTestStore(t)
	buildBlastRadiusGraph(t, s)

	rows, err := s.BlastRadius(context.Background(), "CVE-0000-0000", 2)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAttackPaths(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)
	ctx := context.Background()

	seedService(t, s, "payment-service", models.CriticalityCritical)
	require.NoError(t, s.UpsertThreat(ctx, models.Threat{
		ThreatID: "T-1", StrideCategory: models.StrideTampering, Title: "Payload tampering",
	}))
	require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
		Type: models.RelThreatAffectsService, FromID: "T-1", ToID: "payment-service",
	}))
	require.NoError(t, s.MergeRelationship(ctx, models.Relationship{
		Type: models.RelFindingAffectsService, FromID: "finding-4", ToID: "payment-service",
	}))

	rows, err := s.AttackPaths(ctx, models.StrideTampering)
	require.NoError(t, err)

	// finding-4 -> CWE-89 violates AC-3 (partial) and SC-8 (implemented);
	// only the unmitigated control surfaces.
	require.Len(t, rows, 1)
	assert.Equal(t, "T-1", rows[0].ThreatID)
	assert.Equal(t, "payment-service", rows[0].ServiceID)
	assert.Equal(t, "finding-4", rows[0].FindingID)
	assert.Equal(t, "CWE-89", rows[0].CWEID)
	assert.Equal(t, "AC-3", rows[0].ControlID)
	assert.Equal(t, models.ControlStatusPartial, rows[0].ControlStatus)
}

func TestAttackPathsNoThreatsInCategory(t *testing.T) {
	s := newTestStore(t)
	buildEvidenceGraph(t, s)

	rows, err := s.AttackPaths(context.Background(), models.StrideSpoofing)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
