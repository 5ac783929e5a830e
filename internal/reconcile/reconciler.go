package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
	"github.com/secgraph/secgraph/pkg/models"
)

// Reconciler retries deferred relationship links on a periodic sweep. The
// loader skips relationships whose endpoints are not yet present; once later
// envelopes create those endpoints, the sweep completes the links. Kept out
// of the loader's hot path so ingestion latency never pays for retries.
type Reconciler struct {
	store graph.Store
	log   *zap.Logger
	cfg   config.ReconcileConfig

	mu      sync.Mutex
	pending []models.DeferredLink
}

// New creates a reconciler over the given store.
func New(store graph.Store, cfg config.ReconcileConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   log.Named("reconcile"),
		cfg:   cfg,
	}
}

// Enqueue registers deferred links from a load result for later retry.
// Duplicate links collapse: the set is keyed by relationship identity.
func (r *Reconciler) Enqueue(links []models.DeferredLink) {
	if len(links) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.pending))
	for _, l := range r.pending {
		seen[linkKey(l)] = true
	}
	for _, l := range links {
		if !seen[linkKey(l)] {
			seen[linkKey(l)] = true
			r.pending = append(r.pending, l)
		}
	}
}

// Pending reports how many deferred links await reconciliation.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Sweep retries every pending link once. Links whose endpoints now exist are
// created and dropped from the queue; still-dangling links stay queued.
// Returns the number of links resolved this pass.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	links := r.pending
	r.pending = nil
	r.mu.Unlock()

	var remaining []models.DeferredLink
	resolved := 0
	touchedControls := make(map[string]bool)

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			r.requeue(append(remaining, links[i:]...))
			return resolved, models.WrapDeadline("reconcile sweep", err)
		}

		err := r.store.MergeRelationship(ctx, link.Relationship)
		switch {
		case err == nil:
			resolved++
			r.log.Info("deferred link resolved",
				zap.String("type", string(link.Relationship.Type)),
				zap.String("from", link.Relationship.FromID),
				zap.String("to", link.Relationship.ToID))
			r.markEvidenceControls(ctx, link.Relationship, touchedControls)
		case errors.Is(err, models.ErrDanglingReference):
			remaining = append(remaining, link)
		default:
			// Cyclic or structurally invalid links can never resolve; drop
			// them rather than retrying forever.
			r.log.Warn("dropping unresolvable deferred link",
				zap.String("type", string(link.Relationship.Type)),
				zap.String("from", link.Relationship.FromID),
				zap.String("to", link.Relationship.ToID),
				zap.Error(err))
		}
	}

	for controlID := range touchedControls {
		if _, err := r.store.RefreshControlEvidence(ctx, controlID); err != nil && !errors.Is(err, models.ErrNotFound) {
			r.log.Warn("evidence count refresh failed", zap.String("control_id", controlID), zap.Error(err))
		}
	}

	r.requeue(remaining)
	return resolved, nil
}

// Run sweeps on an exponential backoff schedule, resetting the interval
// whenever a sweep makes progress. Blocks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	timer := time.NewTimer(policy.NextBackOff())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		resolved, err := r.Sweep(ctx)
		if err != nil {
			return
		}
		if resolved > 0 {
			policy.Reset()
		}
		timer.Reset(policy.NextBackOff())
	}
}

func (r *Reconciler) requeue(links []models.DeferredLink) {
	if len(links) == 0 {
		return
	}
	r.mu.Lock()
	r.pending = append(links, r.pending...)
	r.mu.Unlock()
}

// markEvidenceControls flags controls whose evidence_count a resolved link
// may have changed.
func (r *Reconciler) markEvidenceControls(ctx context.Context, rel models.Relationship, touched map[string]bool) {
	switch rel.Type {
	case models.RelCWEViolatesControl:
		touched[rel.ToID] = true
	case models.RelFindingHasCWE:
		rows, err := r.store.MitigatingControls(ctx, rel.ToID)
		if err != nil {
			r.log.Warn("could not resolve controls for cwe", zap.String("cwe_id", rel.ToID), zap.Error(err))
			return
		}
		for _, row := range rows {
			touched[row.ControlID] = true
		}
	}
}

func linkKey(l models.DeferredLink) string {
	return string(l.Relationship.Type) + "|" + l.Relationship.FromID + "|" + l.Relationship.ToID
}
