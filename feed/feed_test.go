package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hazyhaar/netwatch/record"
	"github.com/hazyhaar/netwatch/snapstore"
	"github.com/hazyhaar/netwatch/syncer"
)

func newTestEngine(t *testing.T, store snapstore.Store) *syncer.Engine {
	t.Helper()
	e, err := syncer.New(store, syncer.Config{IdentityKey: "id"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSettleSession_FinalBatchReachesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := snapstore.NewMemory()
	engine := newTestEngine(t, store)

	// Mid-session the decider applied only the first batch; the loop then
	// stopped on a built-in limit in the tick that collected b, so the
	// decider never saw it. The session still returns both items.
	diff, _, err := engine.ProcessBatch(ctx, []record.Record{{"id": "a", "t": "1"}})
	if err != nil {
		t.Fatal(err)
	}
	sessionDiff := &record.DiffResult{}
	sessionDiff.Merge(diff)

	items := record.Batch{{"id": "a", "t": "1"}, {"id": "b", "t": "2"}}
	settleSession(ctx, engine, items, sessionDiff, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ids, err := store.ListAllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("snapshot ids: got %v, want a and b", ids)
	}

	added := map[string]bool{}
	for _, id := range sessionDiff.Added {
		added[id] = true
	}
	if len(sessionDiff.Added) != 2 || !added["a"] || !added["b"] {
		t.Fatalf("added: got %v, want a and b exactly once each", sessionDiff.Added)
	}
}

func TestSettleSession_RecomputesDeletionCandidates(t *testing.T) {
	ctx := context.Background()
	store := snapstore.NewMemory()
	engine := newTestEngine(t, store)

	// A previous session left z in the snapshot.
	if _, err := engine.DiffAndApply(ctx, []record.Record{{"id": "z", "t": "0"}}); err != nil {
		t.Fatal(err)
	}
	engine.ResetSession()

	diff, _, err := engine.ProcessBatch(ctx, []record.Record{{"id": "a", "t": "1"}})
	if err != nil {
		t.Fatal(err)
	}
	sessionDiff := &record.DiffResult{}
	sessionDiff.Merge(diff)

	items := record.Batch{{"id": "a", "t": "1"}, {"id": "b", "t": "2"}}
	settleSession(ctx, engine, items, sessionDiff, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// b reached the snapshot via settling, so only z remains a candidate.
	if len(sessionDiff.DeletedCandidates) != 1 || sessionDiff.DeletedCandidates[0] != "z" {
		t.Fatalf("deletion candidates: got %v, want [z]", sessionDiff.DeletedCandidates)
	}
}

func TestSettleSession_EmptyItemsIsNoop(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, snapstore.NewMemory())

	sessionDiff := &record.DiffResult{DeletedCandidates: []string{"x"}}
	settleSession(ctx, engine, nil, sessionDiff, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if len(sessionDiff.DeletedCandidates) != 1 {
		t.Fatalf("empty session must leave the diff alone, got %+v", sessionDiff)
	}
}
