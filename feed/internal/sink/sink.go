// Package sink defines output backends for collected feed data.
package sink

import (
	"context"

	"github.com/hazyhaar/netwatch/record"
)

// Sink is the output interface. Implementations deliver session results to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	SendItems(ctx context.Context, items record.Batch) error
	SendDiff(ctx context.Context, diff *record.DiffResult) error
	SendStop(ctx context.Context, stop record.StopDecision) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
