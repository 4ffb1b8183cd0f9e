// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/events"
	"github.com/shadowmesh/core/ledger"
	"github.com/shadowmesh/core/resolver"
)

// Run drives the node core's steady-state loop: one consensus sweep over
// every still-pending vertex, immediately followed by applying any vertex
// that sweep just finalized to the ledger (in topological order) and
// indexing any KindAttest payload it carries into the dark resolver's
// fallback source. It returns when ctx is cancelled or an engine sweep
// returns an error. Callers (a CLI's main loop, an integration test) own
// the tick interval; Run's own doc in consensus.Engine.Run makes the same
// split — Run does one sweep, the caller owns the schedule.
func (p *Plane) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil {
				return err
			}
		}
	}
}

// sweep runs one consensus poll round over every pending vertex and then
// reconciles terminal state (Finalized/Rejected) against the ledger and
// resolver.
func (p *Plane) sweep(ctx context.Context) error {
	if err := p.engine.Run(ctx, p.frontier); err != nil {
		return err
	}
	return p.processFinalized()
}

// frontier is the consensus.Engine.Run callback: every vertex this node
// still considers pending.
func (p *Plane) frontier() []ids.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ids.ID, 0, len(p.pending))
	for id := range p.pending {
		out = append(out, id)
	}
	return out
}

// processFinalized scans the pending set for vertices that just reached a
// terminal state. Finalized vertices are applied to the ledger in
// topological order (ledger.Apply assumes every ancestor has already been
// applied) and, if they carry a KindAttest payload, indexed into the
// resolver's fallback source. Rejected vertices are simply dropped from the
// pending set. Both transitions are reported on the event bus.
func (p *Plane) processFinalized() error {
	p.mu.Lock()
	candidates := make([]ids.ID, 0, len(p.pending))
	for id := range p.pending {
		candidates = append(candidates, id)
	}
	p.mu.Unlock()

	var finalized []ids.ID
	var rejected []ids.ID
	for _, id := range candidates {
		v, ok := p.store.Get(id)
		if !ok {
			continue
		}
		switch v.State {
		case dag.StateFinalized:
			finalized = append(finalized, id)
		case dag.StateRejected:
			rejected = append(rejected, id)
		}
	}

	for _, id := range rejected {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.publish(events.Consensus, "Consensus.Rejected", id.String())
	}

	ordered := ledger.TopologicalOrder(p.store, finalized)
	for _, id := range ordered {
		v, ok := p.store.Get(id)
		if !ok {
			continue
		}
		outcome, err := p.ledger.Apply(v, p.engine.Load())
		if err != nil {
			// Apply still returns a meaningful Outcome alongside an error
			// describing why (e.g. AppliedFailed/errs.ErrInsufficientBalance)
			// — the vertex is Finalized either way and its nonce consumed,
			// so it's still removed from pending and reported below.
			p.log.Debug("ledger apply reported a failure outcome", log.Stringer("vertex", id), log.Err(err))
		}
		p.indexIfAttest(v)

		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.publish(events.Ledger, "Ledger."+outcome.String(), id.String())
	}
	return nil
}

func (p *Plane) indexIfAttest(v *dag.Vertex) {
	payload, err := ledger.DecodePayload(v.Payload)
	if err != nil || payload.Kind != ledger.KindAttest {
		return
	}
	record, err := resolver.DecodeRecord(payload.Extra)
	if err != nil {
		p.log.Debug("malformed attest payload, skipping resolver index", log.Stringer("vertex", v.ID))
		return
	}
	p.attestIdx.index(record)
	p.publish(events.Resolver, "Resolver.Indexed", record.Name)
}
