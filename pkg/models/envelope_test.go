package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEnvelope(id string, source SourceType, data string) EvidenceEnvelope {
	return EvidenceEnvelope{
		EvidenceID:     id,
		SourceType:     source,
		StructuredData: json.RawMessage(data),
	}
}

func TestDecodeSARIFDefaults(t *testing.T) {
	env := rawEnvelope("ev-1", SourceSARIF, `{"finding_id": "finding-1", "cwe_id": "CWE-79"}`)

	p, err := env.DecodeSARIF()
	require.NoError(t, err)
	assert.Equal(t, FindingStatusOpen, p.Status)
	assert.Equal(t, 1.0, p.CWEConfidence)
}

func TestDecodeSARIFMissingFindingID(t *testing.T) {
	env := rawEnvelope("ev-1", SourceSARIF, `{"title": "no id"}`)

	_, err := env.DecodeSARIF()
	var malformed *MalformedEnvelopeError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "ev-1", malformed.EvidenceID)
	assert.Equal(t, "finding_id", malformed.Field)
}

func TestDecodeSARIFBadJSON(t *testing.T) {
	env := rawEnvelope("ev-1", SourceSARIF, `{"finding_id": 42}`)

	_, err := env.DecodeSARIF()
	var malformed *MalformedEnvelopeError
	assert.ErrorAs(t, err, &malformed)
}

func TestDecodeControlFrameworkDefaultsStatus(t *testing.T) {
	env := rawEnvelope("ev-1", SourceControlFramework,
		`{"framework": "nist-800-53", "controls": [{"control_id": "AC-3", "title": "Access Enforcement"}]}`)

	p, err := env.DecodeControlFramework()
	require.NoError(t, err)
	require.Len(t, p.Controls, 1)
	assert.Equal(t, ControlStatusMissing, p.Controls[0].Status)
}

func TestDecodeControlFrameworkMissingControlID(t *testing.T) {
	env := rawEnvelope("ev-1", SourceControlFramework,
		`{"framework": "nist-800-53", "controls": [{"title": "anonymous"}]}`)

	_, err := env.DecodeControlFramework()
	var malformed *MalformedEnvelopeError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "control_id", malformed.Field)
}

func TestDecodeThreatModelMissingThreatID(t *testing.T) {
	env := rawEnvelope("ev-1", SourceThreatModel, `{"threats": [{"title": "anonymous"}]}`)

	_, err := env.DecodeThreatModel()
	var malformed *MalformedEnvelopeError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "threat_id", malformed.Field)
}

func TestDecodeServiceInventoryMissingServiceID(t *testing.T) {
	env := rawEnvelope("ev-1", SourceServiceInventory, `{"services": [{"name": "anonymous"}]}`)

	_, err := env.DecodeServiceInventory()
	var malformed *MalformedEnvelopeError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "service_id", malformed.Field)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	env := rawEnvelope("ev-1", SourceSARIF,
		`{"finding_id": "finding-1", "scanner_build": "9.1.0", "extra": {"nested": true}}`)

	p, err := env.DecodeSARIF()
	require.NoError(t, err)
	assert.Equal(t, "finding-1", p.FindingID)
}
