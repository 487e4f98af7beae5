package collect

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
)

// Consumer adapts one merged bus queue to a session: for each event it asks
// the hooks what to log and what to parse, appends the result, and wakes the
// loop. Hook failures are caught here and count as zero items for that event
// — they never reach the bus or end the session.
type Consumer struct {
	session *Session
	hooks   Hooks
	logger  *slog.Logger

	consumed atomic.Int64
	parsed   atomic.Int64
}

// NewConsumer wires hooks to a session. A nil logger uses slog.Default.
func NewConsumer(session *Session, hooks Hooks, logger *slog.Logger) *Consumer {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{session: session, hooks: hooks, logger: logger}
}

// Run drains the queue until it closes or the context ends. Call it in its
// own goroutine alongside the Runner.
func (c *Consumer) Run(ctx context.Context, queue *netbus.Queue[netbus.MergedEvent]) {
	for {
		ev, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		c.consume(ctx, ev.View)
	}
}

func (c *Consumer) consume(ctx context.Context, v *netbus.View) {
	c.consumed.Add(1)

	if c.shouldRecord(v) {
		c.session.Observe(v)
	}

	items := c.parseItems(v)
	if len(items) == 0 {
		return
	}
	c.parsed.Add(int64(len(items)))

	c.session.Append(items...)
	c.onItemsCollected(ctx, items)
	c.session.Wake()
}

// shouldRecord calls the hook, treating a panic as "do not record".
func (c *Consumer) shouldRecord(v *netbus.View) (ok bool) {
	defer c.recoverHook("should_record", v)
	return c.hooks.ShouldRecord(v)
}

// parseItems calls the hook, treating a panic as an empty parse result.
func (c *Consumer) parseItems(v *netbus.View) (items []record.Record) {
	defer c.recoverHook("parse_items", v)
	return c.hooks.ParseItems(v)
}

func (c *Consumer) onItemsCollected(ctx context.Context, items []record.Record) {
	defer c.recoverHook("on_items_collected", nil)
	c.hooks.OnItemsCollected(ctx, items)
}

// Counts returns how many events and parsed items this consumer has seen.
func (c *Consumer) Counts() (events, items int64) {
	return c.consumed.Load(), c.parsed.Load()
}

func (c *Consumer) recoverHook(stage string, v *netbus.View) {
	if r := recover(); r != nil {
		url := ""
		if v != nil {
			url = v.URL
		}
		c.logger.Error("collect: hook panic", "stage", stage, "url", url, "panic", r)
	}
}
