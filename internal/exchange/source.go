// Package exchange hosts tick sources and the feed adapter that buffers and
// supervises them.
package exchange

import (
	"context"
	"errors"

	"livetrader-go/internal/signal"
)

// RawMessage is one undecoded payload from an upstream feed.
type RawMessage []byte

// ErrExhausted is returned by finite sources (file replay) once every
// message has been delivered. It is terminal, not a transient fault, so the
// adapter ends the stream instead of reconnecting.
var ErrExhausted = errors.New("feed exhausted")

// FeedSource abstracts where ticks come from: a live socket or a
// deterministic file replay. Field names, units, and price scaling are
// translation concerns kept entirely behind Normalize.
type FeedSource interface {
	// Connect establishes (or re-establishes) the upstream connection.
	Connect(ctx context.Context) error
	// NextRawMessage blocks until a payload arrives, the source fails, or it
	// is exhausted.
	NextRawMessage() (RawMessage, error)
	// Normalize translates a feed-specific payload into a Tick. A decodable
	// payload with missing fields yields a Tick whose accessors report the
	// absence; only an undecodable payload is an error.
	Normalize(RawMessage) (signal.Tick, error)
	// Disconnect terminates the connection. It must be safe to call
	// concurrently with a blocked NextRawMessage, which then returns an error.
	Disconnect() error
}
