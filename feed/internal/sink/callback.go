package sink

import (
	"context"

	"github.com/hazyhaar/netwatch/record"
)

// ItemsFunc is called with each session's deduplicated items.
type ItemsFunc func(ctx context.Context, items record.Batch) error

// DiffFunc is called with each session's accumulated diff.
type DiffFunc func(ctx context.Context, diff *record.DiffResult) error

// StopFunc is called with the decision that ended the session.
type StopFunc func(ctx context.Context, stop record.StopDecision) error

// Callback delivers results via Go function calls — the in-process path when
// the consumer lives in the same binary, with zero serialisation overhead.
type Callback struct {
	onItems ItemsFunc
	onDiff  DiffFunc
	onStop  StopFunc
}

// NewCallback creates a Callback sink. Any handler may be nil.
func NewCallback(onItems ItemsFunc, onDiff DiffFunc, onStop StopFunc) *Callback {
	return &Callback{onItems: onItems, onDiff: onDiff, onStop: onStop}
}

func (c *Callback) SendItems(ctx context.Context, items record.Batch) error {
	if c.onItems != nil {
		return c.onItems(ctx, items)
	}
	return nil
}

func (c *Callback) SendDiff(ctx context.Context, diff *record.DiffResult) error {
	if c.onDiff != nil {
		return c.onDiff(ctx, diff)
	}
	return nil
}

func (c *Callback) SendStop(ctx context.Context, stop record.StopDecision) error {
	if c.onStop != nil {
		return c.onStop(ctx, stop)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
