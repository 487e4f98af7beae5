package collect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/netwatch/record"
)

func fastConfig() Config {
	return Config{
		MaxDuration:   5 * time.Second,
		MaxIdleRounds: 2,
		ScrollPause:   time.Millisecond,
		WakeTimeout:   5 * time.Millisecond,
	}
}

func noopStep(*rod.Page) error { return nil }

func newRunner(t *testing.T, s *Session, cfg Config, opts RunnerOptions) *Runner {
	t.Helper()
	if opts.Step == nil {
		opts.Step = noopStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r, err := NewRunner(s, cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// The loop always returns for finite limits, even when the step never yields
// new items.
func TestRun_IdleStopsBarrenPage(t *testing.T) {
	s := NewSession(nil)
	r := newRunner(t, s, fastConfig(), RunnerOptions{})

	items, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !dec.ShouldStop || dec.Reason != record.StopIdle {
		t.Fatalf("got %+v, want idle stop", dec)
	}
	if dec.Details["idle_rounds"] != 2 {
		t.Fatalf("details: %v", dec.Details)
	}
	if len(items) != 0 {
		t.Fatalf("items: got %d, want 0", len(items))
	}
}

func TestRun_MaxItems(t *testing.T) {
	s := NewSession(nil)
	cfg := fastConfig()
	cfg.MaxItems = 3
	cfg.MaxIdleRounds = 100

	// Each step surfaces one new item, like a page answering every scroll.
	n := 0
	r := newRunner(t, s, cfg, RunnerOptions{
		Step: func(*rod.Page) error {
			n++
			s.Append(record.Record{"id": n})
			s.Wake()
			return nil
		},
	})

	items, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Reason != record.StopMaxItems {
		t.Fatalf("reason: got %q", dec.Reason)
	}
	if len(items) < 3 {
		t.Fatalf("items: got %d, want >= 3", len(items))
	}
}

func TestRun_Timeout(t *testing.T) {
	s := NewSession(nil)
	cfg := fastConfig()
	cfg.MaxDuration = 30 * time.Millisecond
	cfg.MaxIdleRounds = 1000

	start := time.Now()
	r := newRunner(t, s, cfg, RunnerOptions{})
	_, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Reason != record.StopTimeout {
		t.Fatalf("reason: got %q", dec.Reason)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout fired far too late")
	}
}

func TestRun_CustomDecider(t *testing.T) {
	s := NewSession(nil)
	cfg := fastConfig()
	cfg.MaxIdleRounds = 100

	n := 0
	r := newRunner(t, s, cfg, RunnerOptions{
		Step: func(*rod.Page) error {
			n++
			s.Append(record.Record{"id": n})
			s.Wake()
			return nil
		},
		Bag: map[string]any{"threshold": 3},
		Decider: func(_ context.Context, dc *DeciderContext) record.StopDecision {
			if len(dc.Items) >= dc.Bag["threshold"].(int) {
				return record.Stop("saturated", map[string]any{"items": len(dc.Items)})
			}
			return record.Continue()
		},
	})

	_, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// A decider-supplied reason is preserved verbatim.
	if dec.Reason != "saturated" {
		t.Fatalf("reason: got %q, want saturated", dec.Reason)
	}
}

func TestRun_CustomDeciderDefaultReason(t *testing.T) {
	s := NewSession(nil)
	r := newRunner(t, s, fastConfig(), RunnerOptions{
		Decider: func(context.Context, *DeciderContext) record.StopDecision {
			return record.StopDecision{ShouldStop: true}
		},
	})

	_, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Reason != record.StopCustom {
		t.Fatalf("reason: got %q, want custom", dec.Reason)
	}
}

// A panicking decider is logged and treated as "continue"; the idle breaker
// still ends the session.
func TestRun_DeciderPanicDoesNotAbort(t *testing.T) {
	s := NewSession(nil)
	r := newRunner(t, s, fastConfig(), RunnerOptions{
		Decider: func(context.Context, *DeciderContext) record.StopDecision {
			panic("plugin bug")
		},
	})

	_, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Reason != record.StopIdle {
		t.Fatalf("reason: got %q, want idle", dec.Reason)
	}
}

// Step failures count as no progress, never as a session abort.
func TestRun_StepFailureFallsToIdle(t *testing.T) {
	s := NewSession(nil)
	r := newRunner(t, s, fastConfig(), RunnerOptions{
		Step: func(*rod.Page) error { return errors.New("element gone") },
	})

	_, dec, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Reason != record.StopIdle {
		t.Fatalf("reason: got %q, want idle", dec.Reason)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	s := NewSession(nil)
	cfg := fastConfig()
	cfg.MaxDuration = time.Hour
	cfg.MaxIdleRounds = 1 << 30

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	r := newRunner(t, s, cfg, RunnerOptions{})
	_, _, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestRun_DedupPreservesFirstSeen(t *testing.T) {
	s := NewSession(nil)
	s.Append(
		record.Record{"id": "a", "title": "first"},
		record.Record{"id": "b"},
		record.Record{"id": "a", "title": "resurfaced"},
		record.Record{"title": "keyless"},
		record.Record{"id": "c"},
	)

	r := newRunner(t, s, fastConfig(), RunnerOptions{
		KeyFunc: IdentityKeyFunc("id"),
	})
	items, _, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 4 {
		t.Fatalf("items: got %d, want 4", len(items))
	}
	if items[0]["title"] != "first" {
		t.Fatalf("dedup kept the wrong occurrence: %v", items[0])
	}
	if items[2]["title"] != "keyless" {
		t.Fatal("keyless records must survive dedup")
	}
}

func TestNewRunner_RequiresPageOrStep(t *testing.T) {
	if _, err := NewRunner(NewSession(nil), Config{}, RunnerOptions{}); err == nil {
		t.Fatal("expected error without page and step")
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default mode", Config{}, false},
		{"selector without selector", Config{ScrollMode: ScrollSelector}, true},
		{"selector", Config{ScrollMode: ScrollSelector, ScrollSelector: ".more"}, false},
		{"pager without selector", Config{ScrollMode: ScrollPager}, true},
		{"pager", Config{ScrollMode: ScrollPager, PagerSelector: ".next"}, false},
		{"unknown mode", Config{ScrollMode: "diagonal"}, true},
	}
	for _, tc := range cases {
		tc.cfg.applyDefaults()
		err := tc.cfg.validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	if c.MaxDuration != 2*time.Minute || c.MaxIdleRounds != 3 {
		t.Fatalf("limits: %+v", c)
	}
	if !c.autoScroll() {
		t.Fatal("auto scroll must default on")
	}
	if c.ScrollMode != ScrollDefault || c.WakeTimeout != 3*time.Second {
		t.Fatalf("step defaults: %+v", c)
	}

	off := false
	c2 := Config{AutoScroll: &off}
	c2.applyDefaults()
	if c2.autoScroll() {
		t.Fatal("explicit auto_scroll=false was overridden")
	}
}
