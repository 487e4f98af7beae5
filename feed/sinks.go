package feed

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/netwatch/feed/internal/sink"
)

// Sink is the output interface for session results.
type Sink = sink.Sink

// ItemsFunc is called with each session's deduplicated items.
type ItemsFunc = sink.ItemsFunc

// DiffFunc is called with each session's accumulated diff.
type DiffFunc = sink.DiffFunc

// StopFunc is called with the decision that ended the session.
type StopFunc = sink.StopFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink. Any handler may be nil.
func NewCallbackSink(onItems ItemsFunc, onDiff DiffFunc, onStop StopFunc) Sink {
	return sink.NewCallback(onItems, onDiff, onStop)
}
