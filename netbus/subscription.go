package netbus

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"
)

// Subscription is one pattern registration on the bus. Matching views are
// pushed into its bounded queue; the queue is read only by the subscriber.
type Subscription struct {
	ID        string
	Pattern   *regexp.Regexp
	Kind      Kind
	Queue     *Queue[*View]
	CreatedAt time.Time

	// lastActivity is a unix-nano timestamp of the most recent delivery,
	// updated by bus dispatch and read by the sweep.
	lastActivity atomic.Int64
}

func newSubscription(id, pattern string, kind Kind, capacity int) (*Subscription, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("netbus: compile pattern %q: %w", pattern, err)
	}
	s := &Subscription{
		ID:        id,
		Pattern:   re,
		Kind:      kind,
		Queue:     NewQueue[*View](capacity),
		CreatedAt: time.Now(),
	}
	s.touch()
	return s, nil
}

func (s *Subscription) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent delivery (or creation).
func (s *Subscription) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// matches reports whether a view of the given kind should be delivered.
func (s *Subscription) matches(kind Kind, url string) bool {
	return s.Kind == kind && s.Pattern.MatchString(url)
}

// MergedEvent is one entry of a merged consumption queue, tagged with the
// subscription it came from. FIFO holds per subscription, not across them.
type MergedEvent struct {
	SubID string
	Kind  Kind
	View  *View
}

// SubscribeSpec names one pattern for SubscribeMany.
type SubscribeSpec struct {
	Pattern string `yaml:"pattern"`
	Kind    Kind   `yaml:"kind"`
}
