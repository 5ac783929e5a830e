package models

import (
	"encoding/json"
	"time"
)

// SourceType discriminates the evidence envelope payload variants
type SourceType string

const (
	SourceSARIF            SourceType = "sarif"
	SourceControlFramework SourceType = "control_framework"
	SourceThreatModel      SourceType = "threat_model"
	SourceServiceInventory SourceType = "service_inventory"
)

// EvidenceEnvelope is the normalized unit of security evidence handed to the
// loader by upstream collectors. StructuredData is decoded per SourceType;
// unknown extra fields inside payloads are ignored.
type EvidenceEnvelope struct {
	EvidenceID     string          `json:"evidence_id"`
	SourceType     SourceType      `json:"source_type"`
	Timestamp      time.Time       `json:"timestamp"`
	StructuredData json.RawMessage `json:"structured_data"`
}

// SARIFFindingPayload is the normalized shape of a single scanner finding.
// The upstream SARIF parser has already flattened rule/result structure;
// only the fields the graph consumes appear here.
type SARIFFindingPayload struct {
	FindingID     string   `json:"finding_id"`
	Title         string   `json:"title"`
	Severity      Severity `json:"severity"`
	CVSSScore     float64  `json:"cvss_score"`
	EPSSScore     float64  `json:"epss_score"`
	FirstSeen     time.Time `json:"first_seen"`
	Status        FindingStatus `json:"status"`
	Tool          string   `json:"tool"`
	CWEID         string   `json:"cwe_id,omitempty"`
	CWEConfidence float64  `json:"cwe_confidence,omitempty"`
	ServiceID     string   `json:"service_id,omitempty"`
	Impact        string   `json:"impact,omitempty"`
	CVE           *CVEIntel `json:"cve,omitempty"`
}

// CVEIntel carries vulnerability-intelligence fields attached to a finding
// that correlates with a public CVE record.
type CVEIntel struct {
	CVEID         string    `json:"cve_id"`
	CWEID         string    `json:"cwe_id,omitempty"`
	CVSSV3        float64   `json:"cvss_v3"`
	EPSS          float64   `json:"epss"`
	PublishedDate time.Time `json:"published_date"`
	IsExploited   bool      `json:"is_exploited"`
	ExploitCount  int       `json:"exploit_count"`
}

// ControlFrameworkPayload carries a batch of controls from one framework.
type ControlFrameworkPayload struct {
	Framework Framework      `json:"framework"`
	Controls  []ControlEntry `json:"controls"`
}

// ControlEntry is one control definition plus the weakness classes known to
// violate it.
type ControlEntry struct {
	ControlID     string         `json:"control_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Status        ControlStatus  `json:"status,omitempty"`
	ViolatingCWEs []CWEViolation `json:"violating_cwes,omitempty"`
}

// CWEViolation maps a weakness class onto a control it breaches.
type CWEViolation struct {
	CWEID    string   `json:"cwe_id"`
	Severity Severity `json:"severity,omitempty"`
}

// ThreatModelPayload carries threats plus their mitigations and scope.
type ThreatModelPayload struct {
	Threats []ThreatEntry `json:"threats"`
}

// ThreatEntry is one modeled threat.
type ThreatEntry struct {
	ThreatID           string               `json:"threat_id"`
	StrideCategory     StrideCategory       `json:"stride_category"`
	Title              string               `json:"title"`
	Likelihood         float64              `json:"likelihood"`
	Impact             float64              `json:"impact"`
	MitigatingControls []ControlMitigationRef `json:"mitigating_controls,omitempty"`
	AffectedServices   []ServiceExposure    `json:"affected_services,omitempty"`
}

// ControlMitigationRef names a control that mitigates a threat.
type ControlMitigationRef struct {
	ControlID  string             `json:"control_id"`
	Coverage   MitigationCoverage `json:"coverage,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
}

// ServiceExposure names a service a threat applies to.
type ServiceExposure struct {
	ServiceID  string  `json:"service_id"`
	Likelihood float64 `json:"likelihood,omitempty"`
}

// ServiceInventoryPayload carries services plus their runtime dependencies.
type ServiceInventoryPayload struct {
	Services []ServiceEntry `json:"services"`
}

// ServiceEntry is one inventoried service.
type ServiceEntry struct {
	ServiceID   string          `json:"service_id"`
	Name        string          `json:"name"`
	Criticality Criticality     `json:"criticality"`
	Owner       string          `json:"owner,omitempty"`
	Status      string          `json:"status,omitempty"`
	DependsOn   []DependencyRef `json:"depends_on,omitempty"`
}

// DependencyRef names a downstream service dependency.
type DependencyRef struct {
	ServiceID   string      `json:"service_id"`
	Criticality Criticality `json:"criticality,omitempty"`
}

// DecodeSARIF decodes the envelope payload as a SARIF finding.
func (e EvidenceEnvelope) DecodeSARIF() (*SARIFFindingPayload, error) {
	var p SARIFFindingPayload
	if err := json.Unmarshal(e.StructuredData, &p); err != nil {
		return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Reason: err.Error()}
	}
	if p.FindingID == "" {
		return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Field: "finding_id", Reason: "required field missing"}
	}
	if p.Status == "" {
		p.Status = FindingStatusOpen
	}
	if p.CWEID != "" && p.CWEConfidence == 0 {
		p.CWEConfidence = 1.0
	}
	return &p, nil
}

// DecodeControlFramework decodes the envelope payload as a control batch.
func (e EvidenceEnvelope) DecodeControlFramework() (*ControlFrameworkPayload, error) {
	var p ControlFrameworkPayload
	if err := json.Unmarshal(e.StructuredData, &p); err != nil {
		return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Reason: err.Error()}
	}
	for i := range p.Controls {
		if p.Controls[i].ControlID == "" {
			return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Field: "control_id", Reason: "required field missing"}
		}
		if p.Controls[i].Status == "" {
			p.Controls[i].Status = ControlStatusMissing
		}
	}
	return &p, nil
}

// DecodeThreatModel decodes the envelope payload as a threat-model batch.
func (e EvidenceEnvelope) DecodeThreatModel() (*ThreatModelPayload, error) {
	var p ThreatModelPayload
	if err := json.Unmarshal(e.StructuredData, &p); err != nil {
		return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Reason: err.Error()}
	}
	for _, t := range p.Threats {
		if t.ThreatID == "" {
			return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Field: "threat_id", Reason: "required field missing"}
		}
	}
	return &p, nil
}

// DecodeServiceInventory decodes the envelope payload as a service batch.
func (e EvidenceEnvelope) DecodeServiceInventory() (*ServiceInventoryPayload, error) {
	var p ServiceInventoryPayload
	if err := json.Unmarshal(e.StructuredData, &p); err != nil {
		return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Reason: err.Error()}
	}
	for _, s := range p.Services {
		if s.ServiceID == "" {
			return nil, &MalformedEnvelopeError{EvidenceID: e.EvidenceID, Field: "service_id", Reason: "required field missing"}
		}
	}
	return &p, nil
}
