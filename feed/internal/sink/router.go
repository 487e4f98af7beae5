package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/netwatch/record"
)

// Router fans out deliveries to all configured sinks. One sink error does
// not block the others — errors are logged and the first encountered is
// returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendItems(ctx context.Context, items record.Batch) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendItems(ctx, items); err != nil {
			r.logger.Warn("sink: send items failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendDiff(ctx context.Context, diff *record.DiffResult) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendDiff(ctx, diff); err != nil {
			r.logger.Warn("sink: send diff failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendStop(ctx context.Context, stop record.StopDecision) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendStop(ctx, stop); err != nil {
			r.logger.Warn("sink: send stop failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
