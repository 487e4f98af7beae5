package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
)

// StepFunc performs one page action that should surface more data: a scroll,
// a "load more" click, a pager click. Failures count as no progress for that
// tick, never as a session abort.
type StepFunc func(page *rod.Page) error

// DeciderContext is everything a custom stop decider may inspect.
type DeciderContext struct {
	Page     *rod.Page
	RawLog   []*netbus.View
	LastView *netbus.View
	Items    record.Batch
	NewBatch record.Batch
	Elapsed  time.Duration
	// Bag is an opaque caller config bag passed through unchanged.
	Bag map[string]any
}

// Decider is a caller-supplied stop predicate, evaluated once per tick after
// the built-in limits. A decider panic is logged and treated as "continue".
type Decider func(ctx context.Context, dc *DeciderContext) record.StopDecision

// RunnerOptions are the caller-supplied parts of a Runner beyond Config.
type RunnerOptions struct {
	// Decider is the optional custom stop condition.
	Decider Decider
	// Step overrides the Config-derived step action. Required when the
	// session has no page.
	Step StepFunc
	// KeyFunc extracts the dedup identity of one record. Records without a
	// key are kept as-is. Nil disables final deduplication.
	KeyFunc func(record.Record) (string, bool)
	// Bag is passed to the decider unchanged.
	Bag map[string]any
	// Logger overrides slog.Default.
	Logger *slog.Logger
}

// Runner is the collection state machine: it repeats the step action, waits
// for the bus wake signal, and exits on the first limit reached. Exit order
// per tick: timeout, max_items, idle, custom.
type Runner struct {
	session *Session
	cfg     Config
	opts    RunnerOptions
	step    StepFunc
	logger  *slog.Logger
}

// NewRunner validates the configuration and builds a runner.
func NewRunner(session *Session, cfg Config, opts RunnerOptions) (*Runner, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	step := opts.Step
	if step == nil {
		if session.Page == nil {
			return nil, fmt.Errorf("collect: runner needs a page or an explicit step")
		}
		step = cfg.stepFunc()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{session: session, cfg: cfg, opts: opts, step: step, logger: logger}, nil
}

// Run drives the session to completion and returns the deduplicated items
// with the stop decision. It returns an error only when the context ends
// before any built-in limit fires; the limits themselves are decisions, not
// errors.
func (r *Runner) Run(ctx context.Context) (record.Batch, record.StopDecision, error) {
	start := time.Now()
	idleRounds := 0
	lastCount := r.session.Len()
	var newBatch record.Batch

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(), record.Stop(record.StopTimeout, map[string]any{"cause": "context"}), err
		}

		elapsed := time.Since(start)
		count := r.session.Len()

		if elapsed >= r.cfg.MaxDuration {
			return r.finish(), record.Stop(record.StopTimeout, map[string]any{
				"elapsed": elapsed.String(),
				"limit":   r.cfg.MaxDuration.String(),
			}), nil
		}
		if r.cfg.MaxItems > 0 && count >= r.cfg.MaxItems {
			return r.finish(), record.Stop(record.StopMaxItems, map[string]any{
				"items": count,
				"limit": r.cfg.MaxItems,
			}), nil
		}
		if idleRounds >= r.cfg.MaxIdleRounds {
			return r.finish(), record.Stop(record.StopIdle, map[string]any{
				"idle_rounds": idleRounds,
				"limit":       r.cfg.MaxIdleRounds,
			}), nil
		}
		if r.opts.Decider != nil {
			d := r.decide(ctx, newBatch, elapsed)
			if d.ShouldStop {
				if d.Reason == "" {
					d.Reason = record.StopCustom
				}
				return r.finish(), d, nil
			}
		}

		if r.cfg.autoScroll() {
			if err := r.step(r.session.Page); err != nil {
				// No progress this tick; the idle breaker ends a session
				// whose step keeps failing.
				r.logger.Warn("collect: step failed", "error", err)
			}
			if !sleepCtx(ctx, r.cfg.ScrollPause) {
				continue
			}
		}

		r.session.WaitWake(ctx, r.cfg.WakeTimeout)

		// Re-read the count: queued wakes coalesce, so the count is the only
		// trustworthy progress signal.
		n := r.session.Len()
		if n > lastCount {
			newBatch = r.session.ItemsSince(lastCount)
			idleRounds = 0
		} else {
			newBatch = nil
			idleRounds++
		}
		lastCount = n
	}
}

// decide runs the custom decider, treating a panic as "continue".
func (r *Runner) decide(ctx context.Context, newBatch record.Batch, elapsed time.Duration) (d record.StopDecision) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("collect: stop decider panic", "panic", rec)
			d = record.Continue()
		}
	}()
	return r.opts.Decider(ctx, &DeciderContext{
		Page:     r.session.Page,
		RawLog:   r.session.RawLog(),
		LastView: r.session.LastView(),
		Items:    r.session.Items(),
		NewBatch: newBatch,
		Elapsed:  elapsed,
		Bag:      r.opts.Bag,
	})
}

// finish deduplicates the accumulated items by identity, preserving
// first-seen order.
func (r *Runner) finish() record.Batch {
	items := r.session.Items()
	if r.opts.KeyFunc == nil {
		return items
	}

	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		key, ok := r.opts.KeyFunc(it)
		if !ok {
			out = append(out, it)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// IdentityKeyFunc builds a KeyFunc reading the given record field.
func IdentityKeyFunc(key string) func(record.Record) (string, bool) {
	return func(r record.Record) (string, bool) {
		return r.Identity(key)
	}
}

// stepFunc maps the configured scroll mode to its default page action.
func (c *Config) stepFunc() StepFunc {
	switch c.ScrollMode {
	case ScrollSelector:
		return clickStep(c.ScrollSelector)
	case ScrollPager:
		return clickStep(c.PagerSelector)
	default:
		return scrollToBottom
	}
}

func scrollToBottom(page *rod.Page) error {
	_, err := page.Eval(`() => window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'})`)
	if err != nil {
		return fmt.Errorf("collect: scroll: %w", err)
	}
	return nil
}

func clickStep(selector string) StepFunc {
	return func(page *rod.Page) error {
		el, err := page.Element(selector)
		if err != nil {
			return fmt.Errorf("collect: find %q: %w", selector, err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("collect: click %q: %w", selector, err)
		}
		return nil
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
