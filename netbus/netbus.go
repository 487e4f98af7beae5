// Package netbus multiplexes one page's raw network traffic to many
// independent consumers. It binds to a rod page, watches request/response
// events, eagerly captures response bodies into immutable views, and fans
// matches out to per-pattern bounded queues.
//
// netbus observes, it does not interpret. Payload parsing belongs to the
// consumer hooks in package collect.
package netbus

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/netwatch/idgen"
)

// Options tunes bus behaviour.
type Options struct {
	// QueueCapacity bounds each subscription queue. Default: 256.
	QueueCapacity int
	// IdleTimeout retires subscriptions with no delivery for this long.
	// Default: 10m. Zero keeps the default; negative disables retirement.
	IdleTimeout time.Duration
	// SweepInterval is how often the stale-subscription sweep runs.
	// Default: 1m.
	SweepInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// exchange correlates the CDP request/response events of one network
// request until its body is loadable.
type exchange struct {
	method     string
	url        string
	status     int
	mime       string
	rspHeaders map[string]string
	hasRsp     bool
}

// forwarder is one background task copying a subscription's queue into a
// merged queue.
type forwarder struct {
	subID  string
	cancel context.CancelFunc
}

// Stats are point-in-time bus counters.
type Stats struct {
	Subscriptions int   `json:"subscriptions"`
	Dispatched    int64 `json:"dispatched"`
	Evicted       int64 `json:"evicted"`
	BodyErrors    int64 `json:"body_errors"`
}

// Bus is the single source of truth for one page's network activity.
// Create one per page binding; it must not be shared across sessions.
type Bus struct {
	opts   Options
	logger *slog.Logger
	newID  idgen.Generator

	// ctx governs forwarders and the sweep; cancelled by unbind.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	subs       map[string]*Subscription
	forwarders []*forwarder
	pending    map[proto.NetworkRequestID]*exchange
	merged     []*Queue[MergedEvent]
	bound      bool
	unbound    bool
	unbindOnce sync.Once

	dispatched atomic.Int64
	evicted    atomic.Int64
	bodyErrors atomic.Int64
}

// New creates an unbound Bus. Call Bind to attach it to a page.
func New(opts Options) *Bus {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		opts:    opts,
		logger:  opts.Logger,
		newID:   idgen.Prefixed("sub_", idgen.NanoID(10)),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*Subscription),
		pending: make(map[proto.NetworkRequestID]*exchange),
	}
}

// Bind installs network observers on the page and starts the stale
// subscription sweep. The returned unbind cancels all forwarding tasks and
// the sweep, and closes every queue; it is idempotent and twice-safe.
func (b *Bus) Bind(page *rod.Page) (func(), error) {
	b.mu.Lock()
	if b.unbound {
		b.mu.Unlock()
		return nil, fmt.Errorf("netbus: bus already unbound")
	}
	if b.bound {
		b.mu.Unlock()
		return nil, fmt.Errorf("netbus: bus already bound")
	}
	b.bound = true
	b.mu.Unlock()

	go b.listen(page)
	go b.sweepLoop()

	return b.Unbind, nil
}

// Unbind tears the bus down: it cancels all forwarding tasks and the sweep
// and closes every queue. Idempotent and twice-safe.
func (b *Bus) Unbind() {
	b.unbindOnce.Do(b.shutdown)
}

func (b *Bus) shutdown() {
	b.cancel()

	b.mu.Lock()
	b.unbound = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*Subscription)
	merged := b.merged
	b.merged = nil
	b.forwarders = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Queue.Close()
	}
	for _, q := range merged {
		q.Close()
	}
	b.logger.Debug("netbus: unbound", "subscriptions_closed", len(subs))
}

// listen runs the CDP event loop until unbind. Every handler is recovered
// individually: a failure on one event is logged and that event is simply
// not delivered, never propagating into rod's event dispatch.
func (b *Bus) listen(page *rod.Page) {
	p := page.Context(b.ctx)
	wait := p.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			b.safely("request", func() { b.onRequest(e) })
		},
		func(e *proto.NetworkResponseReceived) {
			b.safely("response", func() { b.onResponse(e) })
		},
		func(e *proto.NetworkLoadingFinished) {
			b.safely("loading_finished", func() { b.onLoadingFinished(p, e) })
		},
		func(e *proto.NetworkLoadingFailed) {
			b.safely("loading_failed", func() { b.dropPending(e.RequestID) })
		},
	)
	wait()
}

func (b *Bus) safely(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("netbus: event handler panic", "stage", stage, "panic", r)
		}
	}()
	fn()
}

func (b *Bus) onRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	headers := flattenHeaders(e.Request.Headers)

	var body []byte
	if e.Request.PostData != "" {
		body = []byte(e.Request.PostData)
	}

	b.mu.Lock()
	b.pending[e.RequestID] = &exchange{method: e.Request.Method, url: e.Request.URL}
	b.mu.Unlock()

	if !b.anyMatch(KindRequest, e.Request.URL) {
		return
	}
	view := NewRequestView(string(e.RequestID), e.Request.Method, e.Request.URL, headers, body)
	b.dispatch(KindRequest, view)
}

func (b *Bus) onResponse(e *proto.NetworkResponseReceived) {
	if e.Response == nil {
		return
	}
	b.mu.Lock()
	px := b.pending[e.RequestID]
	if px == nil {
		px = &exchange{}
		b.pending[e.RequestID] = px
	}
	px.url = e.Response.URL
	px.status = e.Response.Status
	px.mime = e.Response.MIMEType
	px.rspHeaders = flattenHeaders(e.Response.Headers)
	px.hasRsp = true
	b.mu.Unlock()
}

// onLoadingFinished fetches the response body and dispatches the view. The
// body is read at most once per response, and only when at least one
// response subscription matches the URL.
func (b *Bus) onLoadingFinished(page *rod.Page, e *proto.NetworkLoadingFinished) {
	b.mu.Lock()
	px := b.pending[e.RequestID]
	delete(b.pending, e.RequestID)
	b.mu.Unlock()

	if px == nil || !px.hasRsp {
		return
	}
	if !b.anyMatch(KindResponse, px.url) {
		return
	}

	// Body fetch is a CDP round-trip; run it off the event goroutine so a
	// slow body never stalls other event delivery.
	go b.safely("body_fetch", func() {
		body := b.fetchBody(page, e.RequestID)
		view := NewResponseView(string(e.RequestID), px.method, px.url,
			px.status, px.mime, px.rspHeaders, body)
		b.dispatch(KindResponse, view)
	})
}

// fetchBody reads the response body via CDP. Undecodable or unavailable
// bodies degrade to raw bytes or nil — never an error for subscribers.
func (b *Bus) fetchBody(page *rod.Page, id proto.NetworkRequestID) []byte {
	r, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
	if err != nil {
		b.bodyErrors.Add(1)
		b.logger.Debug("netbus: body fetch failed", "request_id", id, "error", err)
		return nil
	}
	if r.Base64Encoded {
		raw, err := base64.StdEncoding.DecodeString(r.Body)
		if err != nil {
			b.bodyErrors.Add(1)
			return []byte(r.Body)
		}
		return raw
	}
	return []byte(r.Body)
}

func (b *Bus) dropPending(id proto.NetworkRequestID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// anyMatch reports whether any live subscription would accept this view.
func (b *Bus) anyMatch(kind Kind, url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.matches(kind, url) {
			return true
		}
	}
	return false
}

// dispatch fans one view out to every matching subscription. Queue overflow
// is policy, not an error: the oldest entry is evicted.
func (b *Bus) dispatch(kind Kind, view *View) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(kind, view.URL) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if s.Queue.Push(view) {
			b.evicted.Add(1)
			b.logger.Debug("netbus: queue full, oldest evicted", "subscription", s.ID, "url", view.URL)
		}
		s.touch()
		b.dispatched.Add(1)
	}
}

// Subscribe registers a pattern and returns its subscription. The pattern is
// a regular expression matched against the full URL.
func (b *Bus) Subscribe(pattern string, kind Kind) (*Subscription, error) {
	sub, err := newSubscription(b.newID(), pattern, kind, b.opts.QueueCapacity)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.unbound {
		b.mu.Unlock()
		return nil, fmt.Errorf("netbus: subscribe after unbind")
	}
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("netbus: subscribed", "id", sub.ID, "pattern", pattern, "kind", kind)
	return sub, nil
}

// Unsubscribe removes a subscription and closes its queue, which also ends
// any forwarding task reading from it. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub := b.subs[id]
	delete(b.subs, id)
	for _, f := range b.forwarders {
		if f.subID == id {
			f.cancel()
		}
	}
	b.mu.Unlock()

	if sub != nil {
		sub.Queue.Close()
	}
}

// SubscribeMany registers every spec and merges their deliveries into one
// provenance-tagged queue, one lightweight forwarding task per pattern.
// FIFO is guaranteed per subscription, not across subscriptions. The
// returned cancel tears down the subscriptions and the merged queue.
func (b *Bus) SubscribeMany(specs []SubscribeSpec) (*Queue[MergedEvent], func(), error) {
	if len(specs) == 0 {
		return nil, nil, fmt.Errorf("netbus: subscribe many: no specs")
	}

	merged := NewQueue[MergedEvent](b.opts.QueueCapacity)
	subIDs := make([]string, 0, len(specs))

	for _, spec := range specs {
		sub, err := b.Subscribe(spec.Pattern, spec.Kind)
		if err != nil {
			for _, id := range subIDs {
				b.Unsubscribe(id)
			}
			merged.Close()
			return nil, nil, err
		}
		subIDs = append(subIDs, sub.ID)

		fctx, fcancel := context.WithCancel(b.ctx)
		b.mu.Lock()
		b.forwarders = append(b.forwarders, &forwarder{subID: sub.ID, cancel: fcancel})
		b.merged = append(b.merged, merged)
		b.mu.Unlock()

		go b.forward(fctx, sub, merged)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			for _, id := range subIDs {
				b.Unsubscribe(id)
			}
			merged.Close()
		})
	}
	return merged, cancel, nil
}

// forward copies one subscription's queue into the merged queue until the
// subscription closes or the bus unbinds.
func (b *Bus) forward(ctx context.Context, sub *Subscription, merged *Queue[MergedEvent]) {
	for {
		v, err := sub.Queue.Pop(ctx)
		if err != nil {
			return
		}
		merged.Push(MergedEvent{SubID: sub.ID, Kind: sub.Kind, View: v})
	}
}

// sweepLoop retires subscriptions idle past the threshold and reaps
// forwarder bookkeeping for removed subscriptions, bounding long-session
// resource growth.
func (b *Bus) sweepLoop() {
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	var stale []string

	b.mu.Lock()
	if b.opts.IdleTimeout > 0 {
		cutoff := time.Now().Add(-b.opts.IdleTimeout)
		for id, s := range b.subs {
			if s.LastActivity().Before(cutoff) {
				stale = append(stale, id)
			}
		}
	}
	// Reap forwarders whose subscription is gone; their goroutines already
	// exited on queue close, this trims the slice.
	live := b.forwarders[:0]
	for _, f := range b.forwarders {
		if _, ok := b.subs[f.subID]; ok {
			live = append(live, f)
		} else {
			f.cancel()
		}
	}
	b.forwarders = live
	b.mu.Unlock()

	for _, id := range stale {
		b.logger.Info("netbus: retiring idle subscription", "id", id, "idle_timeout", b.opts.IdleTimeout)
		b.Unsubscribe(id)
	}
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Subscriptions: n,
		Dispatched:    b.dispatched.Load(),
		Evicted:       b.evicted.Load(),
		BodyErrors:    b.bodyErrors.Load(),
	}
}

func flattenHeaders(h proto.NetworkHeaders) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
