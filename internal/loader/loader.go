package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/pkg/models"
)

// Loader converts evidence envelopes into idempotent upserts against the
// graph. One mapping function per source type; envelopes may arrive in any
// order. Relationships whose target does not exist yet are skipped, logged,
// and reported as deferred links for the reconciliation sweep.
type Loader struct {
	store     graph.Store
	log       *zap.Logger
	batchSize int
}

// New creates a loader over the given store.
func New(store graph.Store, cfg config.LoaderConfig, log *zap.Logger) *Loader {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &Loader{
		store:     store,
		log:       log.Named("loader"),
		batchSize: batch,
	}
}

// LoadEvidence applies a batch of envelopes. A malformed envelope fails only
// itself; the returned result lists per-envelope failures and deferred
// links. The non-nil error return is reserved for batch-level aborts
// (context cancellation).
func (l *Loader) LoadEvidence(ctx context.Context, envelopes []models.EvidenceEnvelope) (*models.LoadResult, error) {
	result := &models.LoadResult{}

	// Bounded batches: one oversized submission cannot starve other callers
	// of the store's write path.
	for start := 0; start < len(envelopes); start += l.batchSize {
		end := start + l.batchSize
		if end > len(envelopes) {
			end = len(envelopes)
		}
		chunk, err := l.loadChunk(ctx, envelopes[start:end])
		result.Merge(chunk)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (l *Loader) loadChunk(ctx context.Context, envelopes []models.EvidenceEnvelope) (*models.LoadResult, error) {
	result := &models.LoadResult{}
	touchedControls := make(map[string]bool)

	for _, env := range envelopes {
		if err := ctx.Err(); err != nil {
			return result, models.WrapDeadline("load evidence", err)
		}

		err := l.applyEnvelope(ctx, env, result, touchedControls)
		switch {
		case err == nil:
			result.Loaded++
		case errors.As(err, new(*models.DeadlineExceededError)):
			return result, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Cancellation mid-envelope aborts the chunk; it is not an
			// envelope failure.
			return result, models.WrapDeadline("load evidence", err)
		default:
			l.log.Error("envelope rejected",
				zap.String("evidence_id", env.EvidenceID),
				zap.String("source_type", string(env.SourceType)),
				zap.Error(err))
			result.Failures = append(result.Failures, models.EnvelopeFailure{
				EvidenceID: env.EvidenceID,
				Error:      err.Error(),
			})
		}
	}

	// Derived state: evidence counts for every control this chunk touched.
	for controlID := range touchedControls {
		if _, err := l.store.RefreshControlEvidence(ctx, controlID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return result, models.WrapDeadline("refresh control evidence", err)
		}
	}
	return result, nil
}

func (l *Loader) applyEnvelope(ctx context.Context, env models.EvidenceEnvelope, result *models.LoadResult, touched map[string]bool) error {
	switch env.SourceType {
	case models.SourceSARIF:
		return l.loadSARIF(ctx, env, result, touched)
	case models.SourceControlFramework:
		return l.loadControlFramework(ctx, env, result, touched)
	case models.SourceThreatModel:
		return l.loadThreatModel(ctx, env, result)
	case models.SourceServiceInventory:
		return l.loadServiceInventory(ctx, env, result)
	default:
		return &models.MalformedEnvelopeError{
			EvidenceID: env.EvidenceID,
			Field:      "source_type",
			Reason:     fmt.Sprintf("%v: %q", models.ErrUnknownSourceType, env.SourceType),
		}
	}
}

// loadSARIF upserts a Finding and links it to its weakness class, affected
// service, and correlated CVE where those are present.
func (l *Loader) loadSARIF(ctx context.Context, env models.EvidenceEnvelope, result *models.LoadResult, touched map[string]bool) error {
	p, err := env.DecodeSARIF()
	if err != nil {
		return err
	}

	finding := models.Finding{
		FindingID: p.FindingID,
		CWEID:     p.CWEID,
		Severity:  p.Severity,
		CVSSScore: p.CVSSScore,
		EPSSScore: p.EPSSScore,
		Title:     p.Title,
		FirstSeen: p.FirstSeen,
		Status:    p.Status,
	}
	if finding.FirstSeen.IsZero() {
		finding.FirstSeen = env.Timestamp
	}
	if err := l.store.UpsertFinding(ctx, finding); err != nil {
		return err
	}

	if p.CWEID != "" {
		rel := models.Relationship{
			Type:       models.RelFindingHasCWE,
			FromID:     p.FindingID,
			ToID:       p.CWEID,
			Properties: map[string]interface{}{"confidence": p.CWEConfidence},
		}
		merged, err := l.mergeOrDefer(ctx, env, rel, result)
		if err != nil {
			return err
		}
		if merged {
			// Any control downstream of this CWE needs its count refreshed.
			l.markControlsForCWE(ctx, p.CWEID, touched)
		}
	}

	if p.ServiceID != "" {
		rel := models.Relationship{
			Type:       models.RelFindingAffectsService,
			FromID:     p.FindingID,
			ToID:       p.ServiceID,
			Properties: map[string]interface{}{"impact": p.Impact},
		}
		if _, err := l.mergeOrDefer(ctx, env, rel, result); err != nil {
			return err
		}
	}

	if p.CVE != nil && p.CVE.CVEID != "" {
		cve := models.CVE{
			CVEID:         p.CVE.CVEID,
			CWEID:         p.CVE.CWEID,
			CVSSV3:        p.CVE.CVSSV3,
			EPSS:          p.CVE.EPSS,
			PublishedDate: p.CVE.PublishedDate,
			IsExploited:   p.CVE.IsExploited,
			ExploitCount:  p.CVE.ExploitCount,
		}
		if err := l.store.UpsertCVE(ctx, cve); err != nil {
			return err
		}
		link := models.Relationship{
			Type:       models.RelFindingLinksCVE,
			FromID:     p.FindingID,
			ToID:       p.CVE.CVEID,
			Properties: map[string]interface{}{"detected_by": p.Tool},
		}
		if _, err := l.mergeOrDefer(ctx, env, link, result); err != nil {
			return err
		}

		if p.CVE.CWEID != "" {
			classify := models.Relationship{
				Type:   models.RelCVEHasCWE,
				FromID: p.CVE.CVEID,
				ToID:   p.CVE.CWEID,
			}
			if _, err := l.mergeOrDefer(ctx, env, classify, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadControlFramework upserts controls and their CWE violation edges.
func (l *Loader) loadControlFramework(ctx context.Context, env models.EvidenceEnvelope, result *models.LoadResult, touched map[string]bool) error {
	p, err := env.DecodeControlFramework()
	if err != nil {
		return err
	}

	for _, entry := range p.Controls {
		ctrl := models.Control{
			ControlID:   entry.ControlID,
			Framework:   p.Framework,
			Title:       entry.Title,
			Description: entry.Description,
			Status:      entry.Status,
		}
		if err := l.store.UpsertControl(ctx, ctrl); err != nil {
			return err
		}

		for _, v := range entry.ViolatingCWEs {
			rel := models.Relationship{
				Type:       models.RelCWEViolatesControl,
				FromID:     v.CWEID,
				ToID:       entry.ControlID,
				Properties: map[string]interface{}{"severity": string(v.Severity)},
			}
			merged, err := l.mergeOrDefer(ctx, env, rel, result)
			if err != nil {
				return err
			}
			if merged {
				touched[entry.ControlID] = true
			}
		}
	}
	return nil
}

// loadThreatModel upserts threats, their mitigation links, and their scope.
// Mitigating controls that do not exist yet are deferred, not errors:
// threats and controls commonly arrive out of order from independent
// scanners.
func (l *Loader) loadThreatModel(ctx context.Context, env models.EvidenceEnvelope, result *models.LoadResult) error {
	p, err := env.DecodeThreatModel()
	if err != nil {
		return err
	}

	for _, entry := range p.Threats {
		threat := models.Threat{
			ThreatID:       entry.ThreatID,
			StrideCategory: entry.StrideCategory,
			Title:          entry.Title,
			Likelihood:     entry.Likelihood,
			Impact:         entry.Impact,
		}
		if err := l.store.UpsertThreat(ctx, threat); err != nil {
			return err
		}

		for _, m := range entry.MitigatingControls {
			coverage := m.Coverage
			if coverage == "" {
				coverage = models.CoveragePartial
			}
			rel := models.Relationship{
				Type:   models.RelControlMitigatesThreat,
				FromID: m.ControlID,
				ToID:   entry.ThreatID,
				Properties: map[string]interface{}{
					"coverage":   string(coverage),
					"confidence": m.Confidence,
				},
			}
			if _, err := l.mergeOrDefer(ctx, env, rel, result); err != nil {
				return err
			}
		}

		for _, svc := range entry.AffectedServices {
			rel := models.Relationship{
				Type:       models.RelThreatAffectsService,
				FromID:     entry.ThreatID,
				ToID:       svc.ServiceID,
				Properties: map[string]interface{}{"likelihood": svc.Likelihood},
			}
			if _, err := l.mergeOrDefer(ctx, env, rel, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadServiceInventory upserts services and their dependency edges. An edge
// that would close a cycle fails the whole envelope: a cyclic inventory is
// bad input, not an ordering artifact.
func (l *Loader) loadServiceInventory(ctx context.Context, env models.EvidenceEnvelope, result *models.LoadResult) error {
	p, err := env.DecodeServiceInventory()
	if err != nil {
		return err
	}

	for _, entry := range p.Services {
		svc := models.Service{
			ServiceID:   entry.ServiceID,
			Name:        entry.Name,
			Criticality: entry.Criticality,
			Owner:       entry.Owner,
			Status:      entry.Status,
		}
		if err := l.store.UpsertService(ctx, svc); err != nil {
			return err
		}
	}

	// Dependency edges after all node upserts so intra-envelope references
	// resolve regardless of declaration order.
	for _, entry := range p.Services {
		for _, dep := range entry.DependsOn {
			rel := models.Relationship{
				Type:       models.RelServiceDependsOnService,
				FromID:     entry.ServiceID,
				ToID:       dep.ServiceID,
				Properties: map[string]interface{}{"criticality": string(dep.Criticality)},
			}
			err := l.store.MergeRelationship(ctx, rel)
			var cyc *models.CyclicDependencyError
			switch {
			case err == nil:
			case errors.As(err, &cyc):
				return cyc
			case errors.Is(err, models.ErrDanglingReference):
				l.deferLink(env, rel, result)
			default:
				return err
			}
		}
	}
	return nil
}

// mergeOrDefer attempts a relationship merge, recording a deferred link on a
// dangling reference. Reports whether the relationship now exists. The error
// return is non-nil only for cancellation, which must abort the chunk rather
// than land on the failure list.
func (l *Loader) mergeOrDefer(ctx context.Context, env models.EvidenceEnvelope, rel models.Relationship, result *models.LoadResult) (bool, error) {
	err := l.store.MergeRelationship(ctx, rel)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrDanglingReference):
		l.deferLink(env, rel, result)
		return false, nil
	case errors.As(err, new(*models.DeadlineExceededError)):
		return false, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, models.WrapDeadline("merge relationship", err)
	}
	// Surface unexpected merge failures on the envelope's failure list via
	// panic-free path: record and continue.
	l.log.Error("relationship merge failed",
		zap.String("evidence_id", env.EvidenceID),
		zap.String("type", string(rel.Type)),
		zap.Error(err))
	result.Failures = append(result.Failures, models.EnvelopeFailure{
		EvidenceID: env.EvidenceID,
		Error:      err.Error(),
	})
	return false, nil
}

func (l *Loader) deferLink(env models.EvidenceEnvelope, rel models.Relationship, result *models.LoadResult) {
	l.log.Warn("dangling reference deferred",
		zap.String("evidence_id", env.EvidenceID),
		zap.String("type", string(rel.Type)),
		zap.String("from", rel.FromID),
		zap.String("to", rel.ToID))
	result.Deferred = append(result.Deferred, models.DeferredLink{
		EvidenceID:   env.EvidenceID,
		Relationship: rel,
		FirstSeen:    time.Now().UTC(),
	})
}

// markControlsForCWE flags every control the CWE violates for an evidence
// count refresh.
func (l *Loader) markControlsForCWE(ctx context.Context, cweID string, touched map[string]bool) {
	rows, err := l.store.MitigatingControls(ctx, cweID)
	if err != nil {
		l.log.Warn("could not resolve controls for cwe", zap.String("cwe_id", cweID), zap.Error(err))
		return
	}
	for _, row := range rows {
		touched[row.ControlID] = true
	}
}

// SeedWeaknessTaxonomy upserts CWE nodes. The weakness taxonomy is seeded
// out of band rather than through envelopes and rarely mutates.
func (l *Loader) SeedWeaknessTaxonomy(ctx context.Context, cwes []models.CWE) error {
	for _, c := range cwes {
		if err := l.store.UpsertCWE(ctx, c); err != nil {
			return fmt.Errorf("seed cwe %s: %w", c.CWEID, err)
		}
	}
	return nil
}
