// Package transport defines the upstream notification contract.
//
// A Source delivers raw widget notifications as Envelopes; it owns its own
// connection lifecycle but never blocks on a slow consumer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Envelope is one raw upstream notification: the listener string the widget
// dispatched on, plus the unparsed event payload.
type Envelope struct {
	Listener string          `json:"listener"`
	Event    json.RawMessage `json:"event"`
}

// Source is implemented by upstream adapters (websocket, demo feed, tests).
//
// Contract:
//   - Start is idempotent while running and returns once the adapter is up.
//   - The adapter must stop pushing into out after Stop returns.
//   - Envelopes may be dropped when out is full; adapters should count and
//     periodically log drops rather than block.
type Source interface {
	Start(ctx context.Context, out chan<- Envelope) error
	Stop(ctx context.Context) error
}

var (
	ErrNotRunning     = errors.New("source not running")
	ErrAlreadyStarted = errors.New("source already started")
)
