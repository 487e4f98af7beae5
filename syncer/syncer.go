// Package syncer converts repeated, overlapping observations of the same
// logical records into a clean add/update/delete stream. Pagination on the
// observed sites is not cursor-stable — the same item resurfaces batch after
// batch — and there is no trustworthy "updated_at", so change detection
// rests entirely on content fingerprints diffed against a snapshot store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/netwatch/record"
	"github.com/hazyhaar/netwatch/snapstore"
)

// Engine diffs successive batches against a snapshot and maintains the
// session-level stop counters. Create one per collection session; only the
// snapshot store may be shared across sessions.
type Engine struct {
	store  snapstore.Store
	cfg    Config
	logger *slog.Logger

	mu               sync.Mutex
	consecutiveKnown int
	noChangeBatches  int
	newItems         int
	batches          int
}

// Counters is a point-in-time view of the session stop state.
type Counters struct {
	ConsecutiveKnown int `json:"consecutive_known"`
	NoChangeBatches  int `json:"no_change_batches"`
	NewItems         int `json:"new_items"`
	Batches          int `json:"batches"`
}

// New creates an Engine over the given snapshot store.
func New(store snapstore.Store, cfg Config, logger *slog.Logger) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg, logger: logger}, nil
}

// Config returns the engine's effective configuration (defaults applied).
func (e *Engine) Config() Config { return e.cfg }

// DiffAndApply diffs one batch against the snapshot. Unknown identities are
// added; known identities whose fingerprint changed are updated; both are
// upserted with their new fingerprint. Identities in the snapshot but absent
// from the batch are reported as deletion candidates only — one batch is a
// partial view of the collection, so nothing is deleted here.
func (e *Engine) DiffAndApply(ctx context.Context, batch []record.Record) (*record.DiffResult, error) {
	diff := &record.DiffResult{}
	seen := make(map[string]bool, len(batch))
	upserts := make(map[string]record.Record)

	fpStore, _ := e.store.(snapstore.FingerprintStore)

	for _, rec := range batch {
		id, ok := rec.Identity(e.cfg.IdentityKey)
		if !ok {
			e.logger.Warn("syncer: record without identity skipped", "identity_key", e.cfg.IdentityKey)
			continue
		}
		if seen[id] {
			// The same identity twice in one batch: first occurrence wins.
			continue
		}
		seen[id] = true

		fp := e.cfg.Fingerprint(rec)

		storedFP, known, err := e.lookupFingerprint(ctx, fpStore, id)
		if err != nil {
			return nil, err
		}

		switch {
		case !known:
			diff.Added = append(diff.Added, id)
		case storedFP != fp:
			diff.Updated = append(diff.Updated, id)
		default:
			continue // no real change
		}

		doc := rec.Clone()
		doc[e.cfg.FingerprintKey] = fp
		upserts[id] = doc
	}

	if len(upserts) > 0 {
		if err := e.store.UpsertMany(ctx, upserts); err != nil {
			return nil, fmt.Errorf("syncer: upsert batch: %w", err)
		}
	}

	all, err := e.store.ListAllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: list snapshot ids: %w", err)
	}
	for _, id := range all {
		if !seen[id] {
			diff.DeletedCandidates = append(diff.DeletedCandidates, id)
		}
	}

	return diff, nil
}

// lookupFingerprint resolves the stored fingerprint for id, recomputing it
// from the stored document when it was never persisted (compatibility with
// snapshots written before fingerprints existed).
func (e *Engine) lookupFingerprint(ctx context.Context, fpStore snapstore.FingerprintStore, id string) (fp string, known bool, err error) {
	if fpStore != nil {
		fp, err = fpStore.GetFingerprintByID(ctx, id)
		if err != nil {
			return "", false, fmt.Errorf("syncer: get fingerprint %q: %w", id, err)
		}
		if fp != "" {
			return fp, true, nil
		}
	}

	stored, err := e.store.GetByID(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("syncer: get snapshot %q: %w", id, err)
	}
	if stored == nil {
		return "", false, nil
	}
	if s, ok := stored[e.cfg.FingerprintKey].(string); ok && s != "" {
		return s, true, nil
	}
	return e.cfg.Fingerprint(stored), true, nil
}

// UpdateSessionCounters feeds one processed batch into the stop state: any
// add or update resets the no-change and known-item streaks; an empty-delta
// batch increments the no-change streak and accumulates the known streak.
func (e *Engine) UpdateSessionCounters(added, updated, known int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.batches++
	e.newItems += added

	if added+updated > 0 {
		e.consecutiveKnown = 0
		e.noChangeBatches = 0
		return
	}
	e.noChangeBatches++
	e.consecutiveKnown += known
}

// EvaluateStopCondition checks the three independent session thresholds.
// Each can trigger a stop; the first reached wins and is reported together
// with its measured value.
func (e *Engine) EvaluateStopCondition() record.StopDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := e.cfg.StopAfterConsecutiveKnown; n > 0 && e.consecutiveKnown >= n {
		return record.Stop(record.StopConsecutiveKnown, map[string]any{
			"consecutive_known": e.consecutiveKnown,
			"threshold":         n,
		})
	}
	if n := e.cfg.StopAfterNoChangeBatches; n > 0 && e.noChangeBatches >= n {
		return record.Stop(record.StopNoChangeBatches, map[string]any{
			"no_change_batches": e.noChangeBatches,
			"threshold":         n,
		})
	}
	if n := e.cfg.MaxNewItems; n > 0 && e.newItems >= n {
		return record.Stop(record.StopMaxNewItems, map[string]any{
			"new_items": e.newItems,
			"threshold": n,
		})
	}
	return record.Continue()
}

// ProcessBatch is the convenience integration point used as the collection
// loop's stop decider: diff the batch, feed the counters, evaluate.
func (e *Engine) ProcessBatch(ctx context.Context, batch []record.Record) (*record.DiffResult, record.StopDecision, error) {
	diff, err := e.DiffAndApply(ctx, batch)
	if err != nil {
		return nil, record.Continue(), err
	}

	added, updated := len(diff.Added), len(diff.Updated)
	known := len(batch) - added - updated
	e.UpdateSessionCounters(added, updated, known)

	return diff, e.EvaluateStopCondition(), nil
}

// ApplyDeletion applies the configured deletion policy to ids — an explicit,
// whole-session decision by the caller, never taken per batch.
func (e *Engine) ApplyDeletion(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	switch e.cfg.DeletionPolicy {
	case DeleteHard:
		if err := e.store.DeleteMany(ctx, ids); err != nil {
			return fmt.Errorf("syncer: hard delete: %w", err)
		}
	default:
		if err := e.store.MarkDeleted(ctx, ids, e.cfg.SoftDeleteFlag, e.cfg.SoftDeleteTimeKey); err != nil {
			return fmt.Errorf("syncer: soft delete: %w", err)
		}
	}
	e.logger.Info("syncer: deletion applied",
		"policy", e.cfg.DeletionPolicy, "count", len(ids))
	return nil
}

// ResetSession clears the stop counters between independent sessions.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveKnown = 0
	e.noChangeBatches = 0
	e.newItems = 0
	e.batches = 0
}

// Counters returns the current stop state.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counters{
		ConsecutiveKnown: e.consecutiveKnown,
		NoChangeBatches:  e.noChangeBatches,
		NewItems:         e.newItems,
		Batches:          e.batches,
	}
}
