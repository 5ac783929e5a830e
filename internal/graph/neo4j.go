package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/pkg/models"
)

// schemaMetaID keys the single bookkeeping node ApplySchema maintains so
// VerifySchema can check structural completeness against an empty graph.
const schemaMetaID = "evidence-graph"

// Neo4jStore implements Store against a Neo4j database. Reads run inside
// read transactions, which gives queries a consistent snapshot; writes use
// MERGE so concurrent duplicate loads converge on one node.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	db     string
	log    *zap.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg config.GraphConfig, log *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
			c.MaxConnectionLifetime = time.Hour
			c.ConnectionAcquisitionTimeout = cfg.ConnTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return &Neo4jStore{driver: driver, db: cfg.Database, log: log}, nil
}

func (s *Neo4jStore) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.db})
}

func (s *Neo4jStore) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.db})
}

// ApplySchema creates uniqueness constraints and secondary indexes with
// IF NOT EXISTS semantics and records the applied type inventory on a
// bookkeeping node. Safe to call on every process start.
func (s *Neo4jStore) ApplySchema(ctx context.Context) error {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	schema := EvidenceSchema()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, c := range schema.Constraints {
			query := fmt.Sprintf(
				"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				c.Name, c.Label, c.Property)
			if _, err := tx.Run(ctx, query, nil); err != nil {
				return nil, fmt.Errorf("create constraint %s: %w", c.Name, err)
			}
		}
		for _, idx := range schema.Indexes {
			query := fmt.Sprintf(
				"CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
				idx.Name, idx.Label, idx.Property)
			if _, err := tx.Run(ctx, query, nil); err != nil {
				return nil, fmt.Errorf("create index %s: %w", idx.Name, err)
			}
		}

		nodeTypes := make([]string, 0, len(models.AllNodeLabels()))
		for _, l := range models.AllNodeLabels() {
			nodeTypes = append(nodeTypes, string(l))
		}
		relTypes := make([]string, 0, len(models.AllRelationshipTypes()))
		for _, r := range models.AllRelationshipTypes() {
			relTypes = append(relTypes, string(r))
		}
		_, err := tx.Run(ctx, `
			MERGE (m:SchemaMeta {id: $id})
			SET m.node_types = $node_types, m.rel_types = $rel_types, m.applied_at = $applied_at`,
			map[string]any{
				"id":         schemaMetaID,
				"node_types": nodeTypes,
				"rel_types":  relTypes,
				"applied_at": time.Now().UTC().Format(time.RFC3339),
			})
		return nil, err
	})
	return models.WrapDeadline("apply schema", err)
}

// VerifySchema reads the applied type inventory and fails with
// SchemaIncompleteError when any expected type is missing.
func (s *Neo4jStore) VerifySchema(ctx context.Context) ([]string, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	present, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			`MATCH (m:SchemaMeta {id: $id}) RETURN m.node_types AS node_types, m.rel_types AS rel_types`,
			map[string]any{"id": schemaMetaID})
		if err != nil {
			return nil, err
		}
		var names []string
		if result.Next(ctx) {
			rec := result.Record()
			names = append(names, stringSlice(rec, "node_types")...)
			names = append(names, stringSlice(rec, "rel_types")...)
		}
		return names, result.Err()
	})
	if err != nil {
		return nil, models.WrapDeadline("verify schema", err)
	}

	names := present.([]string)
	if missing := missingTypes(names); len(missing) > 0 {
		return names, &models.SchemaIncompleteError{Missing: missing}
	}
	return names, nil
}

func (s *Neo4jStore) upsert(ctx context.Context, op, query string, params map[string]any) error {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	return models.WrapDeadline(op, err)
}

func (s *Neo4jStore) UpsertFinding(ctx context.Context, f models.Finding) error {
	if f.FindingID == "" {
		return fmt.Errorf("finding_id is required")
	}
	return s.upsert(ctx, "upsert finding", `
		MERGE (f:Finding {finding_id: $finding_id})
		ON CREATE SET f.first_seen = $first_seen
		SET f.cwe_id = $cwe_id, f.severity = $severity, f.cvss_score = $cvss_score,
		    f.epss_score = $epss_score, f.title = $title, f.status = $status`,
		map[string]any{
			"finding_id": f.FindingID,
			"cwe_id":     f.CWEID,
			"severity":   string(f.Severity),
			"cvss_score": f.CVSSScore,
			"epss_score": f.EPSSScore,
			"title":      f.Title,
			"first_seen": f.FirstSeen.UTC().Format(time.RFC3339),
			"status":     string(f.Status),
		})
}

func (s *Neo4jStore) UpsertCWE(ctx context.Context, c models.CWE) error {
	if c.CWEID == "" {
		return fmt.Errorf("cwe_id is required")
	}
	return s.upsert(ctx, "upsert cwe", `
		MERGE (w:CWE {cwe_id: $cwe_id})
		SET w.title = $title, w.description = $description, w.related_cwe_ids = $related`,
		map[string]any{
			"cwe_id":      c.CWEID,
			"title":       c.Title,
			"description": c.Description,
			"related":     c.RelatedCWEIDs,
		})
}

func (s *Neo4jStore) UpsertControl(ctx context.Context, c models.Control) error {
	if c.ControlID == "" {
		return fmt.Errorf("control_id is required")
	}
	return s.upsert(ctx, "upsert control", `
		MERGE (c:Control {control_id: $control_id})
		ON CREATE SET c.evidence_count = 0
		SET c.framework = $framework, c.title = $title, c.description = $description, c.status = $status`,
		map[string]any{
			"control_id":  c.ControlID,
			"framework":   string(c.Framework),
			"title":       c.Title,
			"description": c.Description,
			"status":      string(c.Status),
		})
}

func (s *Neo4jStore) UpsertThreat(ctx context.Context, t models.Threat) error {
	if t.ThreatID == "" {
		return fmt.Errorf("threat_id is required")
	}
	return s.upsert(ctx, "upsert threat", `
		MERGE (t:Threat {threat_id: $threat_id})
		SET t.stride_category = $stride, t.title = $title, t.likelihood = $likelihood, t.impact = $impact`,
		map[string]any{
			"threat_id":  t.ThreatID,
			"stride":     string(t.StrideCategory),
			"title":      t.Title,
			"likelihood": t.Likelihood,
			"impact":     t.Impact,
		})
}

func (s *Neo4jStore) UpsertService(ctx context.Context, svc models.Service) error {
	if svc.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	return s.upsert(ctx, "upsert service", `
		MERGE (s:Service {service_id: $service_id})
		SET s.name = $name, s.criticality = $criticality, s.owner = $owner, s.status = $status`,
		map[string]any{
			"service_id":  svc.ServiceID,
			"name":        svc.Name,
			"criticality": string(svc.Criticality),
			"owner":       svc.Owner,
			"status":      svc.Status,
		})
}

func (s *Neo4jStore) UpsertCVE(ctx context.Context, c models.CVE) error {
	if c.CVEID == "" {
		return fmt.Errorf("cve_id is required")
	}
	return s.upsert(ctx, "upsert cve", `
		MERGE (v:CVE {cve_id: $cve_id})
		SET v.cwe_id = $cwe_id, v.cvss_v3 = $cvss_v3, v.epss = $epss,
		    v.published_date = $published, v.is_exploited = $is_exploited, v.exploit_count = $exploit_count`,
		map[string]any{
			"cve_id":        c.CVEID,
			"cwe_id":        c.CWEID,
			"cvss_v3":       c.CVSSV3,
			"epss":          c.EPSS,
			"published":     c.PublishedDate.UTC().Format(time.RFC3339),
			"is_exploited":  c.IsExploited,
			"exploit_count": c.ExploitCount,
		})
}

// MergeRelationship creates the relationship if absent and updates its
// properties otherwise. Both endpoints must exist; a service dependency edge
// that would close a cycle is rejected inside the same write transaction as
// the merge, so the DAG check and the write cannot interleave with another
// writer.
func (s *Neo4jStore) MergeRelationship(ctx context.Context, rel models.Relationship) error {
	fromLabel, toLabel := rel.Type.Endpoints()
	if fromLabel == "" {
		return fmt.Errorf("unknown relationship type %q", rel.Type)
	}
	if rel.Type == models.RelServiceDependsOnService && rel.FromID == rel.ToID {
		return &models.CyclicDependencyError{FromID: rel.FromID, ToID: rel.ToID}
	}

	session := s.writeSession(ctx)
	defer session.Close(ctx)

	props := rel.Properties
	if props == nil {
		props = map[string]interface{}{}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if rel.Type == models.RelServiceDependsOnService {
			result, err := tx.Run(ctx, `
				MATCH (b:Service {service_id: $to})-[:SERVICE_DEPENDS_ON_SERVICE*1..]->(a:Service {service_id: $from})
				RETURN count(a) > 0 AS cyclic`,
				map[string]any{"from": rel.FromID, "to": rel.ToID})
			if err != nil {
				return nil, err
			}
			if result.Next(ctx) {
				if cyclic, _ := result.Record().Get("cyclic"); cyclic == true {
					return nil, &models.CyclicDependencyError{FromID: rel.FromID, ToID: rel.ToID}
				}
			}
		}

		query := fmt.Sprintf(`
			MATCH (a:%s {%s: $from}), (b:%s {%s: $to})
			MERGE (a)-[r:%s]->(b)
			SET r += $props
			RETURN count(r) AS merged`,
			fromLabel, NaturalKey(fromLabel), toLabel, NaturalKey(toLabel), rel.Type)
		result, err := tx.Run(ctx, query, map[string]any{"from": rel.FromID, "to": rel.ToID, "props": props})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil || asIntField(rec, "merged") == 0 {
			return nil, fmt.Errorf("%s %s->%s: %w", rel.Type, rel.FromID, rel.ToID, models.ErrDanglingReference)
		}
		return nil, nil
	})
	return models.WrapDeadline("merge relationship", err)
}

// RefreshControlEvidence recomputes evidence_count inside one write
// transaction.
func (s *Neo4jStore) RefreshControlEvidence(ctx context.Context, controlID string) (int, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	count, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:Control {control_id: $control_id})
			OPTIONAL MATCH (f:Finding)-[:FINDING_HAS_CWE]->(:CWE)-[:CWE_VIOLATES_CONTROL]->(c)
			WHERE f.status <> 'waived'
			WITH c, count(DISTINCT f) AS cnt
			SET c.evidence_count = cnt
			RETURN cnt`,
			map[string]any{"control_id": controlID})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
		}
		return asIntField(rec, "cnt"), nil
	})
	if err != nil {
		return 0, models.WrapDeadline("refresh control evidence", err)
	}
	return count.(int), nil
}

// MitigatingControls returns controls reachable from a CWE via
// CWE_VIOLATES_CONTROL, annotated with the CWE's distinct finding count.
func (s *Neo4jStore) MitigatingControls(ctx context.Context, cweID string) ([]models.ControlMitigation, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (w:CWE {cwe_id: $cwe_id})-[:CWE_VIOLATES_CONTROL]->(c:Control)
			OPTIONAL MATCH (f:Finding)-[:FINDING_HAS_CWE]->(w)
			WITH c, count(DISTINCT f) AS finding_count
			RETURN c.control_id AS control_id, c.framework AS framework, c.title AS title,
			       c.status AS status, finding_count
			ORDER BY control_id ASC`,
			map[string]any{"cwe_id": cweID})
		if err != nil {
			return nil, err
		}
		var out []models.ControlMitigation
		for result.Next(ctx) {
			rec := result.Record()
			out = append(out, models.ControlMitigation{
				ControlID:    asString(rec, "control_id"),
				Framework:    models.Framework(asString(rec, "framework")),
				Title:        asString(rec, "title"),
				Status:       models.ControlStatus(asString(rec, "status")),
				FindingCount: asIntField(rec, "finding_count"),
			})
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, models.WrapDeadline("mitigating controls", err)
	}
	return rows.([]models.ControlMitigation), nil
}

// BlastRadius returns services affected by a CVE directly and through up to
// maxDepth dependency hops, deduplicated at the minimum depth observed.
func (s *Neo4jStore) BlastRadius(ctx context.Context, cveID string, maxDepth int) ([]models.AffectedService, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("max depth must be non-negative, got %d", maxDepth)
	}

	session := s.readSession(ctx)
	defer session.Close(ctx)

	// Variable-length bounds cannot be parameterized in Cypher, so the
	// validated depth cap is interpolated.
	directQuery := `
		MATCH (:CVE {cve_id: $cve_id})<-[:FINDING_LINKS_CVE]-(:Finding)-[:FINDING_AFFECTS_SERVICE]->(d:Service)
		RETURN DISTINCT d.service_id AS service_id, d.name AS name, d.criticality AS criticality, 0 AS depth`
	transitiveQuery := fmt.Sprintf(`
		MATCH (:CVE {cve_id: $cve_id})<-[:FINDING_LINKS_CVE]-(:Finding)-[:FINDING_AFFECTS_SERVICE]->(d:Service)
		WITH collect(DISTINCT d) AS directs
		UNWIND directs AS d
		MATCH p = (d)-[:SERVICE_DEPENDS_ON_SERVICE*1..%d]->(t:Service)
		WHERE NOT t IN directs
		RETURN t.service_id AS service_id, t.name AS name, t.criticality AS criticality,
		       min(length(p)) AS depth`, maxDepth)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		collect := func(query string) ([]models.AffectedService, error) {
			result, err := tx.Run(ctx, query, map[string]any{"cve_id": cveID})
			if err != nil {
				return nil, err
			}
			var out []models.AffectedService
			for result.Next(ctx) {
				rec := result.Record()
				depth := asIntField(rec, "depth")
				out = append(out, models.AffectedService{
					ServiceID:   asString(rec, "service_id"),
					Name:        asString(rec, "name"),
					Criticality: models.Criticality(asString(rec, "criticality")),
					Transitive:  depth > 0,
					Depth:       depth,
				})
			}
			return out, result.Err()
		}

		out, err := collect(directQuery)
		if err != nil {
			return nil, err
		}
		if maxDepth > 0 {
			transitive, err := collect(transitiveQuery)
			if err != nil {
				return nil, err
			}
			out = append(out, transitive...)
		}
		return out, nil
	})
	if err != nil {
		return nil, models.WrapDeadline("blast radius", err)
	}
	out := rows.([]models.AffectedService)
	sortAffectedServices(out)
	return out, nil
}

// ControlCoverage aggregates distinct non-waived findings backing a control.
func (s *Neo4jStore) ControlCoverage(ctx context.Context, controlID string) (*models.CoverageReport, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	report, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:Control {control_id: $control_id})
			OPTIONAL MATCH (w:CWE)-[:CWE_VIOLATES_CONTROL]->(c)
			OPTIONAL MATCH (f:Finding)-[:FINDING_HAS_CWE]->(w)
			WHERE f.status <> 'waived'
			RETURN count(DISTINCT f) AS total,
			       count(DISTINCT CASE WHEN f.status = 'patched' THEN f END) AS patched,
			       [x IN collect(DISTINCT w.cwe_id) WHERE x IS NOT NULL] AS cwe_ids`,
			map[string]any{"control_id": controlID})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
		}
		total := asIntField(rec, "total")
		patched := asIntField(rec, "patched")
		r := &models.CoverageReport{
			ControlID:       controlID,
			TotalFindings:   total,
			PatchedFindings: patched,
			RelatedCWEIDs:   stringSlice(rec, "cwe_ids"),
		}
		sort.Strings(r.RelatedCWEIDs)
		if total > 0 {
			pct := patched * 100 / total
			r.PatchedPct = &pct
		}
		return r, nil
	})
	if err != nil {
		return nil, models.WrapDeadline("control coverage", err)
	}
	return report.(*models.CoverageReport), nil
}

// AttackPaths surfaces threat -> service -> finding -> CWE -> unmitigated
// control chains for a STRIDE category.
func (s *Neo4jStore) AttackPaths(ctx context.Context, category models.StrideCategory) ([]models.AttackPathRow, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Threat {stride_category: $category})-[:THREAT_AFFECTS_SERVICE]->(s:Service)
			MATCH (f:Finding)-[:FINDING_AFFECTS_SERVICE]->(s)
			MATCH (f)-[:FINDING_HAS_CWE]->(w:CWE)-[:CWE_VIOLATES_CONTROL]->(c:Control)
			WHERE c.status IN ['missing', 'partial']
			RETURN t.threat_id AS threat_id, t.stride_category AS stride,
			       s.service_id AS service_id, f.finding_id AS finding_id,
			       w.cwe_id AS cwe_id, c.control_id AS control_id, c.status AS control_status
			ORDER BY threat_id, service_id, finding_id, cwe_id, control_id`,
			map[string]any{"category": string(category)})
		if err != nil {
			return nil, err
		}
		var out []models.AttackPathRow
		for result.Next(ctx) {
			rec := result.Record()
			out = append(out, models.AttackPathRow{
				ThreatID:       asString(rec, "threat_id"),
				StrideCategory: models.StrideCategory(asString(rec, "stride")),
				ServiceID:      asString(rec, "service_id"),
				FindingID:      asString(rec, "finding_id"),
				CWEID:          asString(rec, "cwe_id"),
				ControlID:      asString(rec, "control_id"),
				ControlStatus:  models.ControlStatus(asString(rec, "control_status")),
			})
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, models.WrapDeadline("attack paths", err)
	}
	return rows.([]models.AttackPathRow), nil
}

func (s *Neo4jStore) CountNodes(ctx context.Context, label models.NodeLabel, naturalKey string) (int, error) {
	key := NaturalKey(label)
	if key == "" {
		return 0, fmt.Errorf("unknown node label %q", label)
	}

	session := s.readSession(ctx)
	defer session.Close(ctx)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf("MATCH (n:%s {%s: $key}) RETURN count(n) AS cnt", label, key)
		result, err := tx.Run(ctx, query, map[string]any{"key": naturalKey})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return asIntField(rec, "cnt"), nil
	})
	if err != nil {
		return 0, models.WrapDeadline("count nodes", err)
	}
	return count.(int), nil
}

func (s *Neo4jStore) CountRelationships(ctx context.Context, relType models.RelationshipType, fromID, toID string) (int, error) {
	fromLabel, toLabel := relType.Endpoints()
	if fromLabel == "" {
		return 0, fmt.Errorf("unknown relationship type %q", relType)
	}

	session := s.readSession(ctx)
	defer session.Close(ctx)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf("MATCH (a:%s)-[r:%s]->(b:%s)", fromLabel, relType, toLabel)
		params := map[string]any{}
		var conditions []string
		if fromID != "" {
			conditions = append(conditions, fmt.Sprintf("a.%s = $from", NaturalKey(fromLabel)))
			params["from"] = fromID
		}
		if toID != "" {
			conditions = append(conditions, fmt.Sprintf("b.%s = $to", NaturalKey(toLabel)))
			params["to"] = toID
		}
		for i, cond := range conditions {
			if i == 0 {
				query += " WHERE " + cond
			} else {
				query += " AND " + cond
			}
		}
		result, err := tx.Run(ctx, query+" RETURN count(r) AS cnt", params)
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return asIntField(rec, "cnt"), nil
	})
	if err != nil {
		return 0, models.WrapDeadline("count relationships", err)
	}
	return count.(int), nil
}

func (s *Neo4jStore) GetControl(ctx context.Context, controlID string) (*models.Control, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	ctrl, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:Control {control_id: $control_id})
			RETURN c.control_id AS control_id, c.framework AS framework, c.title AS title,
			       c.description AS description, c.status AS status, c.evidence_count AS evidence_count`,
			map[string]any{"control_id": controlID})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", controlID, models.ErrNotFound)
		}
		return &models.Control{
			ControlID:     asString(rec, "control_id"),
			Framework:     models.Framework(asString(rec, "framework")),
			Title:         asString(rec, "title"),
			Description:   asString(rec, "description"),
			Status:        models.ControlStatus(asString(rec, "status")),
			EvidenceCount: asIntField(rec, "evidence_count"),
		}, nil
	})
	if err != nil {
		return nil, models.WrapDeadline("get control", err)
	}
	return ctrl.(*models.Control), nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Record helpers. The driver returns int64 for Cypher integers and nil for
// absent fields.

func asString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asIntField(rec *neo4j.Record, key string) int {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func stringSlice(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// sortAffectedServices orders blast-radius rows by criticality descending,
// then service_id ascending.
func sortAffectedServices(rows []models.AffectedService) {
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i].Criticality.Rank(), rows[j].Criticality.Rank()
		if ri != rj {
			return ri > rj
		}
		return rows[i].ServiceID < rows[j].ServiceID
	})
}
