package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/internal/loader"
	"github.com/secgraph/secgraph/internal/query"
	"github.com/secgraph/secgraph/internal/reconcile"
	"github.com/secgraph/secgraph/pkg/models"
)

func newTestGateway(t *testing.T) (*Gateway, *graph.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	store := graph.NewMemoryStore()
	require.NoError(t, store.ApplySchema(context.Background()))

	log := zap.NewNop()
	l := loader.New(store, cfg.Loader, log)
	e := query.NewEngine(store, log)
	r := reconcile.New(store, cfg.Reconcile, log)
	return NewGateway(cfg.API, store, e, l, r, log), store
}

func doRequest(t *testing.T, g *Gateway, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func seedGraph(t *testing.T, store *graph.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.UpsertCWE(ctx, models.CWE{CWEID: "CWE-79", Title: "XSS"}))
	require.NoError(t, store.UpsertControl(ctx, models.Control{
		ControlID: "AC-3", Framework: models.FrameworkNIST80053, Title: "Access Enforcement", Status: models.ControlStatusPartial,
	}))
	require.NoError(t, store.UpsertFinding(ctx, models.Finding{FindingID: "finding-1", Status: models.FindingStatusOpen}))
	require.NoError(t, store.MergeRelationship(ctx, models.Relationship{
		Type: models.RelFindingHasCWE, FromID: "finding-1", ToID: "CWE-79",
	}))
	require.NoError(t, store.MergeRelationship(ctx, models.Relationship{
		Type: models.RelCWEViolatesControl, FromID: "CWE-79", ToID: "AC-3",
	}))
}

func TestMitigatingControlsEndpoint(t *testing.T) {
	g, store := newTestGateway(t)
	seedGraph(t, store)

	rec := doRequest(t, g, "GET", "/api/v1/queries/mitigating-controls?cwe_id=CWE-79", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []models.ControlMitigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "AC-3", rows[0].ControlID)
	assert.Equal(t, 1, rows[0].FindingCount)
}

func TestMitigatingControlsMissingParam(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "GET", "/api/v1/queries/mitigating-controls", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMitigatingControlsEmptyResultIsArray(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "GET", "/api/v1/queries/mitigating-controls?cwe_id=CWE-0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestBlastRadiusEndpointBadDepth(t *testing.T) {
	g, _ := newTestGateway(t)

	for _, raw := range []string{"abc", "-3"} {
		rec := doRequest(t, g, "GET", "/api/v1/queries/blast-radius?cve_id=CVE-2024-1111&max_depth="+raw, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "max_depth=%s", raw)
	}
}

func TestControlCoverageEndpoint(t *testing.T) {
	g, store := newTestGateway(t)
	seedGraph(t, store)

	rec := doRequest(t, g, "GET", "/api/v1/queries/control-coverage?control_id=AC-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.CoverageReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalFindings)
	require.NotNil(t, report.PatchedPct)
	assert.Equal(t, 0, *report.PatchedPct)
}

func TestControlCoverageUnknownControlIs404(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "GET", "/api/v1/queries/control-coverage?control_id=AC-0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttackPathsInvalidCategoryIs400(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "GET", "/api/v1/queries/attack-paths?stride=X", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadEvidenceEndpoint(t *testing.T) {
	g, store := newTestGateway(t)
	require.NoError(t, store.UpsertCWE(context.Background(), models.CWE{CWEID: "CWE-79", Title: "XSS"}))

	payload, err := json.Marshal(models.SARIFFindingPayload{
		FindingID: "finding-1",
		Severity:  models.SeverityHigh,
		CWEID:     "CWE-79",
	})
	require.NoError(t, err)
	body, err := json.Marshal([]models.EvidenceEnvelope{{
		EvidenceID:     "ev-1",
		SourceType:     models.SourceSARIF,
		StructuredData: payload,
	}})
	require.NoError(t, err)

	rec := doRequest(t, g, "POST", "/api/v1/evidence", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.LoadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Loaded)

	n, err := store.CountNodes(context.Background(), models.LabelFinding, "finding-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadEvidenceRejectsInvalidJSON(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "POST", "/api/v1/evidence", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := doRequest(t, g, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
}
