// Package handlers adapts typed application handlers to the raw adapter
// events a Plugin receives.
package handlers

import (
	"context"
	"encoding/json"
)

// Event is an adapter_event delivered to a Plugin.
type Event struct {
	Name string
	Data json.RawMessage

	// Comet is the obfuscated id of the Comet that raised the event.
	Comet string

	// Context is echoed on every reply so the Comet can correlate it.
	Context string
}

// Reply is an event a handler sends back to the originating Comet.
type Reply struct {
	Name string
	Data json.RawMessage
}

// EventHandler processes one event and returns the replies to send.
type EventHandler func(ctx context.Context, ev Event) ([]Reply, error)
