package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/secgraph/secgraph/pkg/models"
)

// MemoryStore is an embedded, in-process implementation of Store backed by
// adjacency maps. It mirrors the Neo4j implementation's semantics and backs
// the test suite and the default benchmark profile.
//
// All state is guarded by a single RWMutex: queries take the read lock for
// the duration of the traversal, which gives them a consistent snapshot;
// writers take the write lock per operation, so concurrent duplicate loads
// converge on one node.
type MemoryStore struct {
	mu sync.RWMutex

	schemaApplied bool
	presentTypes  []string

	findings map[string]models.Finding
	cwes     map[string]models.CWE
	controls map[string]models.Control
	threats  map[string]models.Threat
	services map[string]models.Service
	cves     map[string]models.CVE

	rels map[relKey]map[string]interface{}
	out  map[models.RelationshipType]map[string][]string
	in   map[models.RelationshipType]map[string][]string
}

type relKey struct {
	Type models.RelationshipType
	From string
	To   string
}

// NewMemoryStore creates an empty in-memory evidence graph.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		findings: make(map[string]models.Finding),
		cwes:     make(map[string]models.CWE),
		controls: make(map[string]models.Control),
		threats:  make(map[string]models.Threat),
		services: make(map[string]models.Service),
		cves:     make(map[string]models.CVE),
		rels:     make(map[relKey]map[string]interface{}),
		out:      make(map[models.RelationshipType]map[string][]string),
		in:       make(map[models.RelationshipType]map[string][]string),
	}
	for _, t := range models.AllRelationshipTypes() {
		s.out[t] = make(map[string][]string)
		s.in[t] = make(map[string][]string)
	}
	return s
}

// ApplySchema registers node and relationship types. Safe to call on every
// process start.
func (s *MemoryStore) ApplySchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaApplied = true
	s.presentTypes = expectedTypeNames()
	return nil
}

// VerifySchema returns the registered type names, failing with
// SchemaIncompleteError when any expected type is absent.
func (s *MemoryStore) VerifySchema(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	present := append([]string(nil), s.presentTypes...)
	if missing := missingTypes(present); len(missing) > 0 {
		return present, &models.SchemaIncompleteError{Missing: missing}
	}
	return present, nil
}

func (s *MemoryStore) UpsertFinding(ctx context.Context, f models.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.FindingID == "" {
		return fmt.Errorf("finding_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.findings[f.FindingID]; ok && f.FirstSeen.IsZero() {
		f.FirstSeen = existing.FirstSeen
	}
	s.findings[f.FindingID] = f
	return nil
}

func (s *MemoryStore) UpsertCWE(ctx context.Context, c models.CWE) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.CWEID == "" {
		return fmt.Errorf("cwe_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwes[c.CWEID] = c
	return nil
}

func (s *MemoryStore) UpsertControl(ctx context.Context, c models.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ControlID == "" {
		return fmt.Errorf("control_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// evidence_count is derived state owned by RefreshControlEvidence
	if existing, ok := s.controls[c.ControlID]; ok {
		c.EvidenceCount = existing.EvidenceCount
	}
	s.controls[c.ControlID] = c
	return nil
}

func (s *MemoryStore) UpsertThreat(ctx context.Context, t models.Threat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ThreatID == "" {
		return fmt.Errorf("threat_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats[t.ThreatID] = t
	return nil
}

func (s *MemoryStore) UpsertService(ctx context.Context, svc models.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if svc.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ServiceID] = svc
	return nil
}

func (s *MemoryStore) UpsertCVE(ctx context.Context, c models.CVE) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.CVEID == "" {
		return fmt.Errorf("cve_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cves[c.CVEID] = c
	return nil
}

// MergeRelationship creates the relationship if absent, otherwise updates
// its properties in place. Service dependency edges are checked against the
// DAG invariant before being applied.
func (s *MemoryStore) MergeRelationship(ctx context.Context, rel models.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fromLabel, toLabel := rel.Type.Endpoints()
	if fromLabel == "" {
		return fmt.Errorf("unknown relationship type %q", rel.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nodeExists(fromLabel, rel.FromID) || !s.nodeExists(toLabel, rel.ToID) {
		return fmt.Errorf("%s %s->%s: %w", rel.Type, rel.FromID, rel.ToID, models.ErrDanglingReference)
	}

	if rel.Type == models.RelServiceDependsOnService {
		if rel.FromID == rel.ToID || s.dependencyPathExists(rel.ToID, rel.FromID) {
			return &models.CyclicDependencyError{FromID: rel.FromID, ToID: rel.ToID}
		}
	}

	key := relKey{Type: rel.Type, From: rel.FromID, To: rel.ToID}
	if _, exists := s.rels[key]; !exists {
		s.out[rel.Type][rel.FromID] = append(s.out[rel.Type][rel.FromID], rel.ToID)
		s.in[rel.Type][rel.ToID] = append(s.in[rel.Type][rel.ToID], rel.FromID)
	}
	props := make(map[string]interface{}, len(rel.Properties))
	for k, v := range rel.Properties {
		props[k] = v
	}
	s.rels[key] = props
	return nil
}

// dependencyPathExists reports whether to is reachable from from along
// SERVICE_DEPENDS_ON_SERVICE edges. Caller must hold the lock.
func (s *MemoryStore) dependencyPathExists(from, to string) bool {
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, next := range s.out[models.RelServiceDependsOnService][cur] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

func (s *MemoryStore) nodeExists(label models.NodeLabel, id string) bool {
	switch label {
	case models.LabelFinding:
		_, ok := s.findings[id]
		return ok
	case models.LabelCWE:
		_, ok := s.cwes[id]
		return ok
	case models.LabelControl:
		_, ok := s.controls[id]
		return ok
	case models.LabelThreat:
		_, ok := s.threats[id]
		return ok
	case models.LabelService:
		_, ok := s.services[id]
		return ok
	case models.LabelCVE:
		_, ok := s.cves[id]
		return ok
	default:
		return false
	}
}

// RefreshControlEvidence recomputes evidence_count for a control as the
// number of distinct non-waived findings reachable via
// FINDING_HAS_CWE -> CWE_VIOLATES_CONTROL.
func (s *MemoryStore) RefreshControlEvidence(ctx context.Context, controlID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controls[controlID]
	if !ok {
		return 0, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
	}
	count := len(s.evidenceFindings(controlID))
	ctrl.EvidenceCount = count
	s.controls[controlID] = ctrl
	return count, nil
}

// evidenceFindings returns the distinct non-waived findings backing a
// control. Caller must hold at least the read lock.
func (s *MemoryStore) evidenceFindings(controlID string) map[string]models.Finding {
	found := make(map[string]models.Finding)
	for _, cweID := range s.in[models.RelCWEViolatesControl][controlID] {
		for _, findingID := range s.in[models.RelFindingHasCWE][cweID] {
			f, ok := s.findings[findingID]
			if !ok || f.Status == models.FindingStatusWaived {
				continue
			}
			found[findingID] = f
		}
	}
	return found
}

// MitigatingControls returns the controls a CWE violates, each annotated
// with the count of distinct findings linked to that CWE, ordered by
// control_id ascending.
func (s *MemoryStore) MitigatingControls(ctx context.Context, cweID string) ([]models.ControlMitigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	findingCount := len(distinct(s.in[models.RelFindingHasCWE][cweID]))

	rows := make([]models.ControlMitigation, 0)
	for _, controlID := range distinct(s.out[models.RelCWEViolatesControl][cweID]) {
		ctrl, ok := s.controls[controlID]
		if !ok {
			continue
		}
		rows = append(rows, models.ControlMitigation{
			ControlID:    ctrl.ControlID,
			Framework:    ctrl.Framework,
			Title:        ctrl.Title,
			Status:       ctrl.Status,
			FindingCount: findingCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ControlID < rows[j].ControlID })
	return rows, nil
}

// BlastRadius returns the distinct union of services affected by a CVE:
// directly via linked findings, and transitively along dependency edges up
// to maxDepth hops. Ordered by criticality descending, then service_id.
func (s *MemoryStore) BlastRadius(ctx context.Context, cveID string, maxDepth int) ([]models.AffectedService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// depth per service, 0 = directly affected
	depth := make(map[string]int)
	var frontier []string
	for _, findingID := range s.in[models.RelFindingLinksCVE][cveID] {
		for _, serviceID := range s.out[models.RelFindingAffectsService][findingID] {
			if _, seen := depth[serviceID]; !seen {
				depth[serviceID] = 0
				frontier = append(frontier, serviceID)
			}
		}
	}

	for d := 1; d <= maxDepth && len(frontier) > 0; d++ {
		var next []string
		for _, serviceID := range frontier {
			for _, dep := range s.out[models.RelServiceDependsOnService][serviceID] {
				if _, seen := depth[dep]; !seen {
					depth[dep] = d
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	rows := make([]models.AffectedService, 0, len(depth))
	for serviceID, d := range depth {
		svc, ok := s.services[serviceID]
		if !ok {
			continue
		}
		rows = append(rows, models.AffectedService{
			ServiceID:   svc.ServiceID,
			Name:        svc.Name,
			Criticality: svc.Criticality,
			Transitive:  d > 0,
			Depth:       d,
		})
	}
	sortAffectedServices(rows)
	return rows, nil
}

// ControlCoverage aggregates the distinct non-waived findings backing a
// control. PatchedPct is nil when the control has no evidence.
func (s *MemoryStore) ControlCoverage(ctx context.Context, controlID string) (*models.CoverageReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.controls[controlID]; !ok {
		return nil, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
	}

	findings := s.evidenceFindings(controlID)
	total := len(findings)
	patched := 0
	for _, f := range findings {
		if f.Status == models.FindingStatusPatched {
			patched++
		}
	}

	report := &models.CoverageReport{
		ControlID:       controlID,
		TotalFindings:   total,
		PatchedFindings: patched,
		RelatedCWEIDs:   distinct(s.in[models.RelCWEViolatesControl][controlID]),
	}
	if total > 0 {
		pct := patched * 100 / total
		report.PatchedPct = &pct
	}
	return report, nil
}

// AttackPaths surfaces threat -> exposed service -> unmitigated weakness
// chains for one STRIDE category. Paths are not deduplicated.
func (s *MemoryStore) AttackPaths(ctx context.Context, category models.StrideCategory) ([]models.AttackPathRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var threatIDs []string
	for id, t := range s.threats {
		if t.StrideCategory == category {
			threatIDs = append(threatIDs, id)
		}
	}
	sort.Strings(threatIDs)

	rows := make([]models.AttackPathRow, 0)
	for _, threatID := range threatIDs {
		threat := s.threats[threatID]
		for _, serviceID := range distinct(s.out[models.RelThreatAffectsService][threatID]) {
			for _, findingID := range distinct(s.in[models.RelFindingAffectsService][serviceID]) {
				for _, cweID := range distinct(s.out[models.RelFindingHasCWE][findingID]) {
					for _, controlID := range distinct(s.out[models.RelCWEViolatesControl][cweID]) {
						ctrl, ok := s.controls[controlID]
						if !ok {
							continue
						}
						if ctrl.Status != models.ControlStatusMissing && ctrl.Status != models.ControlStatusPartial {
							continue
						}
						rows = append(rows, models.AttackPathRow{
							ThreatID:       threatID,
							StrideCategory: threat.StrideCategory,
							ServiceID:      serviceID,
							FindingID:      findingID,
							CWEID:          cweID,
							ControlID:      controlID,
							ControlStatus:  ctrl.Status,
						})
					}
				}
			}
		}
	}
	return rows, nil
}

func (s *MemoryStore) CountNodes(ctx context.Context, label models.NodeLabel, naturalKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nodeExists(label, naturalKey) {
		return 1, nil
	}
	return 0, nil
}

func (s *MemoryStore) CountRelationships(ctx context.Context, relType models.RelationshipType, fromID, toID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key := range s.rels {
		if key.Type != relType {
			continue
		}
		if fromID != "" && key.From != fromID {
			continue
		}
		if toID != "" && key.To != toID {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) GetControl(ctx context.Context, controlID string) (*models.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctrl, ok := s.controls[controlID]
	if !ok {
		return nil, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
	}
	return &ctrl, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// distinct returns a sorted copy of ids with duplicates removed.
func distinct(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
