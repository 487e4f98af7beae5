// Package collect drives one collection session: a Consumer pulls parsed
// records out of a netbus merged queue into shared Session state, while a
// Runner repeats a page step (scroll, click) until a size, time, idle or
// custom stop condition ends the session.
package collect

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
)

// Session is the mutable state of one collection run: the ordered items
// collected so far, the raw-response log, and the wake primitive connecting
// the Consumer to the Runner. Owned exclusively by one session; create a
// fresh one (or Reset) per run.
type Session struct {
	// Page is the driven page. Nil when the caller supplies its own step
	// function, as tests do.
	Page *rod.Page

	mu       sync.Mutex
	items    []record.Record
	rawLog   []*netbus.View
	lastView *netbus.View

	// wake is a single-slot notification: any number of appends between two
	// loop ticks coalesce into one "something changed" signal, so the loop
	// re-reads the item count instead of trusting per-event deltas.
	wake chan struct{}
}

// NewSession creates an empty session bound to a page (which may be nil).
func NewSession(page *rod.Page) *Session {
	return &Session{
		Page: page,
		wake: make(chan struct{}, 1),
	}
}

// Observe logs one raw view and remembers it as the most recent.
func (s *Session) Observe(v *netbus.View) {
	s.mu.Lock()
	s.rawLog = append(s.rawLog, v)
	s.lastView = v
	s.mu.Unlock()
}

// Append adds parsed items in arrival order.
func (s *Session) Append(items ...record.Record) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	s.items = append(s.items, items...)
	s.mu.Unlock()
}

// Wake signals the loop that new data may be available. Never blocks;
// repeated wakes coalesce.
func (s *Session) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WaitWake blocks until a wake arrives, the timeout elapses, or the context
// ends. It reports whether a wake was received; a timeout is one idle round,
// not an error.
func (s *Session) WaitWake(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.wake:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Len returns the number of items collected so far.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns a copy of all collected items in arrival order.
func (s *Session) Items() record.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(record.Batch, len(s.items))
	copy(out, s.items)
	return out
}

// ItemsSince returns a copy of the items appended after the given offset.
func (s *Session) ItemsSince(offset int) record.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset >= len(s.items) {
		return nil
	}
	out := make(record.Batch, len(s.items)-offset)
	copy(out, s.items[offset:])
	return out
}

// RawLog returns a copy of the raw-response history.
func (s *Session) RawLog() []*netbus.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*netbus.View, len(s.rawLog))
	copy(out, s.rawLog)
	return out
}

// LastView returns the most recently observed view, or nil.
func (s *Session) LastView() *netbus.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastView
}

// Reset clears items, raw log and any pending wake, keeping the page.
func (s *Session) Reset() {
	s.mu.Lock()
	s.items = nil
	s.rawLog = nil
	s.lastView = nil
	s.mu.Unlock()

	select {
	case <-s.wake:
	default:
	}
}
