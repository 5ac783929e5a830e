package models

import "time"

// ControlMitigation is one row of the mitigating-controls query: a control
// reachable from a CWE via CWE_VIOLATES_CONTROL, annotated with the count of
// distinct findings linked to that CWE.
type ControlMitigation struct {
	ControlID    string        `json:"control_id"`
	Framework    Framework     `json:"framework"`
	Title        string        `json:"title"`
	Status       ControlStatus `json:"status"`
	FindingCount int           `json:"finding_count"`
}

// AffectedService is one row of the blast-radius query. Depth is the number
// of dependency hops from a directly affected service (0 = direct).
type AffectedService struct {
	ServiceID   string      `json:"service_id"`
	Name        string      `json:"name"`
	Criticality Criticality `json:"criticality"`
	Transitive  bool        `json:"transitive"`
	Depth       int         `json:"depth"`
}

// CoverageReport is the result of the control-coverage query. PatchedPct is
// nil when no findings exist, distinguishing "no evidence" from "fully
// patched".
type CoverageReport struct {
	ControlID       string   `json:"control_id"`
	TotalFindings   int      `json:"total_findings"`
	PatchedFindings int      `json:"patched_findings"`
	PatchedPct      *int     `json:"patched_pct"`
	RelatedCWEIDs   []string `json:"related_cwe_ids"`
}

// AttackPathRow is one concrete weak point surfaced by attack-path
// discovery: a threat reaching an exposed service whose weakness violates an
// unmitigated control. Rows are not deduplicated; each is distinct evidence.
type AttackPathRow struct {
	ThreatID       string         `json:"threat_id"`
	StrideCategory StrideCategory `json:"stride_category"`
	ServiceID      string         `json:"service_id"`
	FindingID      string         `json:"finding_id"`
	CWEID          string         `json:"cwe_id"`
	ControlID      string         `json:"control_id"`
	ControlStatus  ControlStatus  `json:"control_status"`
}

// EnvelopeFailure pairs a failed envelope with the error that rejected it.
type EnvelopeFailure struct {
	EvidenceID string `json:"evidence_id"`
	Error      string `json:"error"`
}

// DeferredLink records a relationship skipped because an endpoint was not
// yet present. The reconciliation sweep retries it on a later pass.
type DeferredLink struct {
	EvidenceID   string       `json:"evidence_id"`
	Relationship Relationship `json:"relationship"`
	FirstSeen    time.Time    `json:"first_seen"`
}

// LoadResult is the partial-failure result of one load batch.
type LoadResult struct {
	Loaded   int               `json:"loaded"`
	Failures []EnvelopeFailure `json:"failures,omitempty"`
	Deferred []DeferredLink    `json:"deferred,omitempty"`
}

// Merge folds another batch result into this one.
func (r *LoadResult) Merge(other *LoadResult) {
	if other == nil {
		return
	}
	r.Loaded += other.Loaded
	r.Failures = append(r.Failures, other.Failures...)
	r.Deferred = append(r.Deferred, other.Deferred...)
}
