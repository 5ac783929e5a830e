package models

import (
	"time"
)

// NodeLabel identifies a node type in the evidence graph
type NodeLabel string

const (
	LabelFinding NodeLabel = "Finding"
	LabelCWE     NodeLabel = "CWE"
	LabelControl NodeLabel = "Control"
	LabelThreat  NodeLabel = "Threat"
	LabelService NodeLabel = "Service"
	LabelCVE     NodeLabel = "CVE"
)

// Severity represents finding severity levels
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingStatus represents the remediation lifecycle of a finding
type FindingStatus string

const (
	FindingStatusOpen    FindingStatus = "open"
	FindingStatusPatched FindingStatus = "patched"
	FindingStatusWaived  FindingStatus = "waived"
)

// ControlStatus represents the implementation state of a compliance control
type ControlStatus string

const (
	ControlStatusImplemented ControlStatus = "implemented"
	ControlStatusPartial     ControlStatus = "partial"
	ControlStatusMissing     ControlStatus = "missing"
	ControlStatusWaived      ControlStatus = "waived"
)

// Framework represents a compliance framework
type Framework string

const (
	FrameworkNIST80053 Framework = "nist-800-53"
	FrameworkCIS       Framework = "cis"
	FrameworkSOC2      Framework = "soc2"
	FrameworkISO27001  Framework = "iso-27001"
)

// StrideCategory represents a STRIDE threat classification
type StrideCategory string

const (
	StrideSpoofing       StrideCategory = "S"
	StrideTampering      StrideCategory = "T"
	StrideRepudiation    StrideCategory = "R"
	StrideInfoDisclosure StrideCategory = "I"
	StrideDenialOfService StrideCategory = "D"
	StrideElevation      StrideCategory = "E"
)

// Criticality represents service criticality levels
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// Rank returns a sortable weight for criticality, higher is more critical.
// Unknown values rank below low.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 0
	}
}

// MitigationCoverage represents how completely a control mitigates a threat
type MitigationCoverage string

const (
	CoverageFull    MitigationCoverage = "full"
	CoveragePartial MitigationCoverage = "partial"
	CoverageNone    MitigationCoverage = "none"
)

// Finding represents a scanner finding node
type Finding struct {
	FindingID string        `json:"finding_id"`
	CWEID     string        `json:"cwe_id,omitempty"`
	Severity  Severity      `json:"severity"`
	CVSSScore float64       `json:"cvss_score"`
	EPSSScore float64       `json:"epss_score"`
	Title     string        `json:"title"`
	FirstSeen time.Time     `json:"first_seen"`
	Status    FindingStatus `json:"status"`
}

// CWE represents a weakness taxonomy node
type CWE struct {
	CWEID         string   `json:"cwe_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	RelatedCWEIDs []string `json:"related_cwe_ids,omitempty"`
}

// Control represents a compliance control node
type Control struct {
	ControlID     string        `json:"control_id"`
	Framework     Framework     `json:"framework"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Status        ControlStatus `json:"status"`
	EvidenceCount int           `json:"evidence_count"`
}

// Threat represents a threat-model node
type Threat struct {
	ThreatID       string         `json:"threat_id"`
	StrideCategory StrideCategory `json:"stride_category"`
	Title          string         `json:"title"`
	Likelihood     float64        `json:"likelihood"`
	Impact         float64        `json:"impact"`
}

// Service represents a service-inventory node. Services form a dependency
// DAG via SERVICE_DEPENDS_ON_SERVICE relationships.
type Service struct {
	ServiceID   string      `json:"service_id"`
	Name        string      `json:"name"`
	Criticality Criticality `json:"criticality"`
	Owner       string      `json:"owner,omitempty"`
	Status      string      `json:"status,omitempty"`
}

// CVE represents a public vulnerability record node
type CVE struct {
	CVEID         string    `json:"cve_id"`
	CWEID         string    `json:"cwe_id,omitempty"`
	CVSSV3        float64   `json:"cvss_v3"`
	EPSS          float64   `json:"epss"`
	PublishedDate time.Time `json:"published_date"`
	IsExploited   bool      `json:"is_exploited"`
	ExploitCount  int       `json:"exploit_count"`
}

// RelationshipType identifies a relationship type in the evidence graph
type RelationshipType string

const (
	RelFindingHasCWE           RelationshipType = "FINDING_HAS_CWE"
	RelCWEViolatesControl      RelationshipType = "CWE_VIOLATES_CONTROL"
	RelControlMitigatesThreat  RelationshipType = "CONTROL_MITIGATES_THREAT"
	RelThreatAffectsService    RelationshipType = "THREAT_AFFECTS_SERVICE"
	RelServiceDependsOnService RelationshipType = "SERVICE_DEPENDS_ON_SERVICE"
	RelFindingAffectsService   RelationshipType = "FINDING_AFFECTS_SERVICE"
	RelCVEHasCWE               RelationshipType = "CVE_HAS_CWE"
	RelFindingLinksCVE         RelationshipType = "FINDING_LINKS_CVE"
)

// Endpoints returns the node labels a relationship type connects.
func (t RelationshipType) Endpoints() (from, to NodeLabel) {
	switch t {
	case RelFindingHasCWE:
		return LabelFinding, LabelCWE
	case RelCWEViolatesControl:
		return LabelCWE, LabelControl
	case RelControlMitigatesThreat:
		return LabelControl, LabelThreat
	case RelThreatAffectsService:
		return LabelThreat, LabelService
	case RelServiceDependsOnService:
		return LabelService, LabelService
	case RelFindingAffectsService:
		return LabelFinding, LabelService
	case RelCVEHasCWE:
		return LabelCVE, LabelCWE
	case RelFindingLinksCVE:
		return LabelFinding, LabelCVE
	default:
		return "", ""
	}
}

// Relationship represents a directed, typed edge between two nodes,
// addressed by the natural keys of its endpoints.
type Relationship struct {
	Type       RelationshipType       `json:"type"`
	FromID     string                 `json:"from_id"`
	ToID       string                 `json:"to_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// AllNodeLabels lists every node type the schema defines.
func AllNodeLabels() []NodeLabel {
	return []NodeLabel{LabelFinding, LabelCWE, LabelControl, LabelThreat, LabelService, LabelCVE}
}

// AllRelationshipTypes lists every relationship type the schema defines.
func AllRelationshipTypes() []RelationshipType {
	return []RelationshipType{
		RelFindingHasCWE,
		RelCWEViolatesControl,
		RelControlMitigatesThreat,
		RelThreatAffectsService,
		RelServiceDependsOnService,
		RelFindingAffectsService,
		RelCVEHasCWE,
		RelFindingLinksCVE,
	}
}
