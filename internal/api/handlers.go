package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/pkg/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleLoadEvidence accepts a JSON array of evidence envelopes and returns
// the partial-failure load result.
func (g *Gateway) handleLoadEvidence(w http.ResponseWriter, r *http.Request) {
	var envelopes []models.EvidenceEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelopes); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := g.loader.LoadEvidence(r.Context(), envelopes)
	if err != nil {
		g.writeError(w, statusFor(err), err)
		return
	}
	g.reconciler.Enqueue(result.Deferred)
	g.writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleMitigatingControls(w http.ResponseWriter, r *http.Request) {
	cweID := r.URL.Query().Get("cwe_id")
	if cweID == "" {
		g.writeError(w, http.StatusBadRequest, errors.New("cwe_id is required"))
		return
	}
	rows, err := g.engine.MitigatingControls(r.Context(), cweID)
	if err != nil {
		g.writeError(w, statusFor(err), err)
		return
	}
	g.writeJSON(w, http.StatusOK, emptyAsList(rows))
}

func (g *Gateway) handleBlastRadius(w http.ResponseWriter, r *http.Request) {
	maxDepth := -1
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			g.writeError(w, http.StatusBadRequest, errors.New("max_depth must be a non-negative integer"))
			return
		}
		maxDepth = parsed
	}

	cveID := r.URL.Query().Get("cve_id")
	if cveID == "" {
		g.writeError(w, http.StatusBadRequest, errors.New("cve_id is required"))
		return
	}
	rows, err := g.engine.BlastRadius(r.Context(), cveID, maxDepth)
	if err != nil {
		g.writeError(w, statusFor(err), err)
		return
	}
	g.writeJSON(w, http.StatusOK, emptyAsList(rows))
}

func (g *Gateway) handleControlCoverage(w http.ResponseWriter, r *http.Request) {
	controlID := r.URL.Query().Get("control_id")
	if controlID == "" {
		g.writeError(w, http.StatusBadRequest, errors.New("control_id is required"))
		return
	}
	report, err := g.engine.ControlCoverage(r.Context(), controlID)
	if err != nil {
		g.writeError(w, statusFor(err), err)
		return
	}
	g.writeJSON(w, http.StatusOK, report)
}

func (g *Gateway) handleAttackPaths(w http.ResponseWriter, r *http.Request) {
	category := models.StrideCategory(r.URL.Query().Get("stride"))
	rows, err := g.engine.AttackPaths(r.Context(), category)
	if err != nil {
		g.writeError(w, statusFor(err), err)
		return
	}
	g.writeJSON(w, http.StatusOK, emptyAsList(rows))
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":           "ok",
		"pending_deferred": g.reconciler.Pending(),
	}
	code := http.StatusOK
	if err := g.store.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.log.Error("response encode failed", zap.Error(err))
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, err error) {
	g.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps engine and loader errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		malformed *models.MalformedEnvelopeError
		cyclic    *models.CyclicDependencyError
		deadline  *models.DeadlineExceededError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &malformed), errors.As(err, &cyclic):
		return http.StatusBadRequest
	case errors.As(err, &deadline):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// emptyAsList keeps query responses as JSON arrays even when no rows match.
func emptyAsList[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
