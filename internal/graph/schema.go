package graph

import (
	"github.com/secgraph/secgraph/pkg/models"
)

// Schema declares node labels, uniqueness constraints, and secondary indexes
// for the evidence graph. Applied declaratively with create-if-not-exists
// semantics so repeated application on process start is a no-op.
type Schema struct {
	Constraints []Constraint
	Indexes     []Index
}

// Constraint enforces uniqueness of a node property within a label.
type Constraint struct {
	Name     string
	Label    models.NodeLabel
	Property string
}

// Index is a secondary index over a node property used as a query filter.
type Index struct {
	Name     string
	Label    models.NodeLabel
	Property string
}

// EvidenceSchema returns the schema definition for the evidence graph.
// Every natural key gets a unique constraint; secondary indexes cover the
// properties the reasoning queries filter on.
func EvidenceSchema() Schema {
	return Schema{
		Constraints: []Constraint{
			{Name: "finding_id_unique", Label: models.LabelFinding, Property: "finding_id"},
			{Name: "cwe_id_unique", Label: models.LabelCWE, Property: "cwe_id"},
			{Name: "control_id_unique", Label: models.LabelControl, Property: "control_id"},
			{Name: "threat_id_unique", Label: models.LabelThreat, Property: "threat_id"},
			{Name: "service_id_unique", Label: models.LabelService, Property: "service_id"},
			{Name: "cve_id_unique", Label: models.LabelCVE, Property: "cve_id"},
		},
		Indexes: []Index{
			{Name: "finding_severity_idx", Label: models.LabelFinding, Property: "severity"},
			{Name: "finding_status_idx", Label: models.LabelFinding, Property: "status"},
			{Name: "control_framework_idx", Label: models.LabelControl, Property: "framework"},
			{Name: "threat_stride_idx", Label: models.LabelThreat, Property: "stride_category"},
		},
	}
}

// NaturalKey returns the natural key property for a node label.
func NaturalKey(label models.NodeLabel) string {
	switch label {
	case models.LabelFinding:
		return "finding_id"
	case models.LabelCWE:
		return "cwe_id"
	case models.LabelControl:
		return "control_id"
	case models.LabelThreat:
		return "threat_id"
	case models.LabelService:
		return "service_id"
	case models.LabelCVE:
		return "cve_id"
	default:
		return ""
	}
}

// expectedTypeNames lists every node and relationship type VerifySchema
// checks for.
func expectedTypeNames() []string {
	names := make([]string, 0, 14)
	for _, l := range models.AllNodeLabels() {
		names = append(names, string(l))
	}
	for _, r := range models.AllRelationshipTypes() {
		names = append(names, string(r))
	}
	return names
}

// missingTypes returns expected type names absent from present.
func missingTypes(present []string) []string {
	seen := make(map[string]bool, len(present))
	for _, p := range present {
		seen[p] = true
	}
	var missing []string
	for _, name := range expectedTypeNames() {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
