package collect

import (
	"context"

	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
)

// Hooks is the per-collector plugin surface. A plugin understands one site's
// payload shapes; the rest of the pipeline stays generic.
//
// ParseItems is "optional sequence, empty on mismatch": a payload the plugin
// does not recognize yields nil, never an error — one malformed response must
// not abort a session. Implementations embed NopHooks and override what they
// need.
type Hooks interface {
	// ShouldRecord reports whether the raw view belongs in the session's
	// raw-response log.
	ShouldRecord(v *netbus.View) bool

	// ParseItems extracts typed records from one view. Nil or empty means
	// the payload did not match, which counts as zero items.
	ParseItems(v *netbus.View) []record.Record

	// OnItemsCollected runs after a non-empty parse result has been appended
	// to the session.
	OnItemsCollected(ctx context.Context, items []record.Record)
}

// NopHooks is the embeddable default: record everything, parse nothing.
type NopHooks struct{}

func (NopHooks) ShouldRecord(*netbus.View) bool                    { return true }
func (NopHooks) ParseItems(*netbus.View) []record.Record           { return nil }
func (NopHooks) OnItemsCollected(context.Context, []record.Record) {}
