// Package feed ties the pipeline together: a browser page's network traffic
// flows through a netbus binding into a collect session, the syncer engine
// turns its batches into an add/update/delete stream, and the results are
// emitted to sinks. Each target runs as an independent session with its own
// bus binding, session state and engine; only the snapshot store is shared.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/netwatch/browser"
	"github.com/hazyhaar/netwatch/collect"
	"github.com/hazyhaar/netwatch/feed/internal/sink"
	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
	"github.com/hazyhaar/netwatch/snapstore"
	"github.com/hazyhaar/netwatch/syncer"
)

// Result is the outcome of one target's collection session.
type Result struct {
	TargetID string              `json:"target_id"`
	Items    record.Batch        `json:"items"`
	Diff     *record.DiffResult  `json:"diff"`
	Stop     record.StopDecision `json:"stop"`
	Counters syncer.Counters     `json:"counters"`
}

// Options are the caller-supplied collaborators of a Feed.
type Options struct {
	// Store is a snapshot store shared by every target. Deletion candidates
	// are computed against all identities in a store, so share one only when
	// targets cannot observe each other's identities (or set StoreFor).
	Store snapstore.Store
	// StoreFor supplies a per-target store and takes precedence over Store.
	// When both are nil each target gets its own in-memory store.
	StoreFor func(target TargetConfig) snapstore.Store
	// Hooks supplies the per-target payload plugin, keyed by target ID.
	// Targets without hooks use collect.NopHooks and collect nothing.
	Hooks map[string]collect.Hooks
	// ExtraSinks are appended to the sinks built from configuration.
	ExtraSinks []Sink
	// Registry tracks bus bindings for process shutdown. Default: private.
	Registry *netbus.Registry
	// Logger overrides slog.Default.
	Logger *slog.Logger
}

// Feed runs collection sessions for every configured target.
type Feed struct {
	cfg      *Config
	mgr      *browser.Manager
	registry *netbus.Registry
	store    snapstore.Store
	storeFor func(target TargetConfig) snapstore.Store
	hooks    map[string]collect.Hooks
	router   *sink.Router
	logger   *slog.Logger
}

// New builds a Feed from configuration.
func New(cfg *Config, opts Options) (*Feed, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = netbus.NewRegistry(logger)
	}

	sinks := make([]Sink, 0, len(cfg.Sinks)+len(opts.ExtraSinks))
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		}
	}
	sinks = append(sinks, opts.ExtraSinks...)

	return &Feed{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Headful:          cfg.Browser.Headful,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			NavTimeout:       cfg.Browser.NavTimeout,
			Logger:           logger,
		}),
		registry: registry,
		store:    opts.Store,
		storeFor: opts.StoreFor,
		hooks:    opts.Hooks,
		router:   sink.NewRouter(logger, sinks...),
		logger:   logger,
	}, nil
}

// Registry returns the bus registry, for shutdown wiring.
func (f *Feed) Registry() *netbus.Registry { return f.registry }

// Run starts the browser, runs every target session concurrently, and emits
// each session's result to the sinks. It returns all results; the error is
// the first session failure, if any.
func (f *Feed) Run(ctx context.Context) ([]Result, error) {
	if _, err := f.mgr.Start(ctx); err != nil {
		return nil, err
	}
	defer f.mgr.Close()
	defer f.router.Close()

	results := make([]Result, len(f.cfg.Targets))
	g, gctx := errgroup.WithContext(ctx)

	for i, target := range f.cfg.Targets {
		i, target := i, target
		g.Go(func() error {
			res, err := f.RunTarget(gctx, target)
			if err != nil {
				return fmt.Errorf("feed: target %s: %w", target.ID, err)
			}
			results[i] = *res
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// RunTarget runs one target's session end to end: create the page, bind the
// bus, navigate, collect until a stop condition fires, then emit items, diff
// and stop decision to the sinks. Binding and subscribing happen before
// navigation so the initial page load — usually the first and largest data
// batch — is observed.
func (f *Feed) RunTarget(ctx context.Context, target TargetConfig) (*Result, error) {
	logger := f.logger.With("target", target.ID)

	page, err := f.mgr.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	bus := netbus.New(netbus.Options{
		QueueCapacity: f.cfg.Bus.QueueCapacity,
		IdleTimeout:   f.cfg.Bus.IdleTimeout,
		SweepInterval: f.cfg.Bus.SweepInterval,
		Logger:        logger,
	})
	unbind, err := bus.Bind(page)
	if err != nil {
		return nil, err
	}
	f.registry.Add(bus, unbind)
	defer f.registry.Remove(bus)

	merged, cancelSubs, err := bus.SubscribeMany(target.Patterns)
	if err != nil {
		return nil, err
	}
	defer cancelSubs()

	hooks := f.hooks[target.ID]
	session := collect.NewSession(page)
	consumer := collect.NewConsumer(session, hooks, logger)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx, merged)
	}()

	if err := f.mgr.Navigate(ctx, page, target.URL); err != nil {
		cancelSubs()
		<-consumerDone
		return nil, err
	}

	store := f.store
	if f.storeFor != nil {
		store = f.storeFor(target)
	}
	if store == nil {
		if k := target.Sync.FingerprintKey; k != "" {
			store = snapstore.NewMemory(snapstore.WithMemoryFingerprintKey(k))
		} else {
			store = snapstore.NewMemory()
		}
	}
	engine, err := syncer.New(store, target.Sync, logger)
	if err != nil {
		return nil, err
	}

	// The engine's batch processing is the session-level stop condition,
	// plugged in as the loop's custom decider. The accumulated diff is only
	// touched from the loop goroutine; the mutex covers the final read.
	var diffMu sync.Mutex
	sessionDiff := &record.DiffResult{}
	decider := func(ctx context.Context, dc *collect.DeciderContext) record.StopDecision {
		if len(dc.NewBatch) == 0 {
			return record.Continue()
		}
		diff, decision, err := engine.ProcessBatch(ctx, dc.NewBatch)
		if err != nil {
			logger.Error("feed: process batch failed", "error", err)
			return record.Continue()
		}
		diffMu.Lock()
		sessionDiff.Merge(diff)
		diffMu.Unlock()
		return decision
	}

	runner, err := collect.NewRunner(session, target.Collector, collect.RunnerOptions{
		Decider: decider,
		KeyFunc: collect.IdentityKeyFunc(engine.Config().IdentityKey),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	items, stop, err := runner.Run(ctx)

	// Stop event flow before reading results, and wait for the consumer so
	// no append races the final state.
	cancelSubs()
	<-consumerDone

	if err != nil {
		return nil, err
	}

	diffMu.Lock()
	diff := sessionDiff
	diffMu.Unlock()

	settleSession(ctx, engine, items, diff, logger)

	if target.ApplyDeletions && len(diff.DeletedCandidates) > 0 {
		if derr := engine.ApplyDeletion(ctx, diff.DeletedCandidates); derr != nil {
			logger.Error("feed: apply deletions failed", "error", derr)
		}
	}

	res := &Result{
		TargetID: target.ID,
		Items:    items,
		Diff:     diff,
		Stop:     stop,
		Counters: engine.Counters(),
	}
	f.emit(ctx, logger, res)

	logger.Info("feed: session finished",
		"items", len(items), "reason", stop.Reason,
		"added", len(diff.Added), "updated", len(diff.Updated),
		"deletion_candidates", len(diff.DeletedCandidates))
	return res, nil
}

// settleSession replays the session's final item set through the engine. A
// batch collected in the same tick that trips a built-in stop limit never
// reaches the decider; without this pass those items would be emitted but
// missing from the snapshot, and the next session would re-report them as
// added. The replay is a no-op for identities already applied, and the
// deletion candidates are recomputed against the final state.
func settleSession(ctx context.Context, engine *syncer.Engine, items record.Batch, diff *record.DiffResult, logger *slog.Logger) {
	if len(items) == 0 {
		return
	}
	final, err := engine.DiffAndApply(ctx, items)
	if err != nil {
		logger.Error("feed: settle session failed", "error", err)
		return
	}
	diff.Merge(final)
}

// emit delivers one session result to the sinks. Sink failures are logged by
// the router and never fail the session.
func (f *Feed) emit(ctx context.Context, logger *slog.Logger, res *Result) {
	if err := f.router.SendItems(ctx, res.Items); err != nil {
		logger.Warn("feed: emit items", "error", err)
	}
	if err := f.router.SendDiff(ctx, res.Diff); err != nil {
		logger.Warn("feed: emit diff", "error", err)
	}
	if err := f.router.SendStop(ctx, res.Stop); err != nil {
		logger.Warn("feed: emit stop", "error", err)
	}
}
