// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package events implements the event sink (C8): a capability-polymorphic
// Sink interface and a Bus fan-out over it, with a bounded per-subscriber
// channel and a dropped-count metric so a slow subscriber never blocks the
// core. No teacher or pack file implements a generic pub/sub event bus —
// the closest precedent is the teacher's consensus/beam/engine.go, which
// hands out one fixed buffered channel per named event kind (SlashEvent) —
// so this package generalizes that single-purpose shape into the spec's
// six event categories and an arbitrary subscriber count, in the repo's
// own established idiom otherwise (constructor-injected log.Logger,
// mutex-guarded struct).
package events

import "time"

// Category is one of the six event categories spec.md §4.8 names.
type Category uint8

const (
	Admission Category = iota
	Consensus
	Ledger
	Circuit
	Resolver
	Peer
)

func (c Category) String() string {
	switch c {
	case Admission:
		return "Admission"
	case Consensus:
		return "Consensus"
	case Ledger:
		return "Ledger"
	case Circuit:
		return "Circuit"
	case Resolver:
		return "Resolver"
	case Peer:
		return "Peer"
	default:
		return "Unknown"
	}
}

// Event is one structured event published to the bus. Kind is the stable
// {error_kind}-style string (e.g. the value errs.Kind returns) for state
// transitions and errors alike; Detail is the non-stable human-readable
// description spec.md §7 distinguishes from Kind.
type Event struct {
	Category Category
	Kind     string
	Detail   string
	At       time.Time
}

// Sink is the capability-polymorphic receiver spec.md §4.8 describes: any
// component that wants to react to events (a logger, a metrics exporter, a
// websocket fan-out for C9's subscribe_events) implements Receive.
// Handlers must not block; a Sink that cannot keep up should do its own
// internal buffering or drop, same as a Bus subscriber.
type Sink interface {
	Receive(Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Receive(e Event) { f(e) }
