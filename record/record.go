// Package record holds the leaf domain types shared by the collection loop
// and the passive sync engine: typed records, diff results, and stop
// decisions. It has no dependencies so every other package can import it.
package record

import "strconv"

// Record is one logical item extracted from a captured network payload.
// Keys and value shapes are site-specific; the engine only cares about the
// identity key and (for fingerprinting) a deterministic serialization.
type Record map[string]any

// Identity returns the record's identity under key as a string. Numeric
// identities are formatted without exponent notation so the same logical
// value always maps to the same key.
func (r Record) Identity(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// Clone returns a shallow copy. Nested values are shared; callers that
// mutate nested structures must copy them first.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// DiffResult reports how one batch changed the snapshot. DeletedCandidates
// lists identities present in the snapshot but absent from the batch: one
// batch is a partial view of the collection, so deletion is never applied
// here — the caller decides at whole-session scope.
type DiffResult struct {
	Added             []string `json:"added"`
	Updated           []string `json:"updated"`
	DeletedCandidates []string `json:"deleted_candidates"`
}

// Empty reports whether the batch produced no additions or updates.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0
}

// Merge folds another diff into this one (session accumulation). Deleted
// candidates are replaced, not accumulated: only the latest batch's view of
// "absent" is meaningful.
func (d *DiffResult) Merge(other *DiffResult) {
	d.Added = append(d.Added, other.Added...)
	d.Updated = append(d.Updated, other.Updated...)
	d.DeletedCandidates = other.DeletedCandidates
}

// StopReason identifies which limit ended a collection session.
type StopReason string

const (
	StopTimeout          StopReason = "timeout"
	StopMaxItems         StopReason = "max_items"
	StopIdle             StopReason = "idle"
	StopCustom           StopReason = "custom"
	StopMaxNewItems      StopReason = "max_new_items"
	StopConsecutiveKnown StopReason = "consecutive_known"
	StopNoChangeBatches  StopReason = "no_change_batches"
)

// StopDecision is the outcome of a stop-condition evaluation. Details carries
// the measured value that tripped the threshold, for diagnostics.
type StopDecision struct {
	ShouldStop bool           `json:"should_stop"`
	Reason     StopReason     `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Continue is the zero decision: keep going.
func Continue() StopDecision { return StopDecision{} }

// Stop builds a positive decision with the given reason and details.
func Stop(reason StopReason, details map[string]any) StopDecision {
	return StopDecision{ShouldStop: true, Reason: reason, Details: details}
}

// Batch is an ordered group of records, in arrival order.
type Batch []Record

// Identities returns the identity of every record that has one under key,
// preserving order.
func (b Batch) Identities(key string) []string {
	out := make([]string, 0, len(b))
	for _, r := range b {
		if id, ok := r.Identity(key); ok {
			out = append(out, id)
		}
	}
	return out
}
