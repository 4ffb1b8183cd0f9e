// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/crypto/fingerprint"
	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/events"
	"github.com/shadowmesh/core/ledger"
	"github.com/shadowmesh/core/onion"
	"github.com/shadowmesh/core/resolver"
)

// SubmitTransaction validates payload against the submitter's current
// account state, wraps it in a vertex parented on the DAG's current tips,
// signs that vertex with this node's author key, and admits it. It returns
// the new vertex's id. Validation failure (bad nonce, bad signature, zero
// amount) never reaches the DAG; admission failure (unknown parent, cycle,
// oversized payload) is reported as whatever errs.Kind names.
func (p *Plane) SubmitTransaction(_ context.Context, payload *ledger.Payload) (_ ids.ID, err error) {
	defer func() { p.metrics.observe("SubmitTransaction", err) }()

	if p.writerQueueDepth() >= p.params.WriterQueueHighWaterMark {
		p.publish(events.Admission, errs.Kind(errs.ErrOverloaded), errs.ErrOverloaded.Error())
		return ids.Empty, errs.ErrOverloaded
	}

	if payload.Amount == nil {
		payload.Amount = uint256.NewInt(0)
	}

	accountNonce := p.ledger.Account(payload.From).Nonce
	if err := payload.ValidateStatic(accountNonce); err != nil {
		p.publish(events.Admission, errs.Kind(err), err.Error())
		return ids.Empty, err
	}

	encodedPayload, err := payload.Encode()
	if err != nil {
		return ids.Empty, fmt.Errorf("control: encode payload: %w", err)
	}

	v, err := p.buildVertex(encodedPayload)
	if err != nil {
		return ids.Empty, err
	}

	result, err := p.store.Admit(v)
	if err != nil {
		p.publish(events.Admission, errs.Kind(err), err.Error())
		return ids.Empty, err
	}
	switch result {
	case dag.DuplicateVertex:
		return v.ID, errs.ErrDuplicate
	case dag.RejectedVertex:
		return ids.Empty, fmt.Errorf("control: vertex rejected")
	}

	p.mu.Lock()
	p.pending[v.ID] = struct{}{}
	p.mu.Unlock()

	p.publish(events.Admission, "Admission.Admitted", v.ID.String())
	p.log.Debug("transaction submitted", log.Stringer("vertex", v.ID), log.Stringer("from", payload.From))
	return v.ID, nil
}

// AdmitVertex admits a vertex that originated from another peer — the
// counterpart to SubmitTransaction for vertices this node didn't build
// itself. It applies the same writer-queue admission control, then runs it
// through the same Store.Admit path and adds it to the pending set so Run's
// frontier polls it like any locally-submitted vertex. The caller (a
// transport layer receiving a vertex over the wire) is responsible for
// anything above DAG admission, like deduplicating already-known ids before
// calling this.
func (p *Plane) AdmitVertex(_ context.Context, v *dag.Vertex) (_ ids.ID, err error) {
	defer func() { p.metrics.observe("AdmitVertex", err) }()

	if p.writerQueueDepth() >= p.params.WriterQueueHighWaterMark {
		p.publish(events.Admission, errs.Kind(errs.ErrOverloaded), errs.ErrOverloaded.Error())
		return ids.Empty, errs.ErrOverloaded
	}

	result, err := p.store.Admit(v)
	if err != nil {
		p.publish(events.Admission, errs.Kind(err), err.Error())
		return ids.Empty, err
	}
	switch result {
	case dag.DuplicateVertex:
		return v.ID, errs.ErrDuplicate
	case dag.RejectedVertex:
		return ids.Empty, fmt.Errorf("control: vertex rejected")
	}

	p.mu.Lock()
	p.pending[v.ID] = struct{}{}
	p.mu.Unlock()

	p.publish(events.Admission, "Admission.Admitted", v.ID.String())
	p.log.Debug("peer vertex admitted", log.Stringer("vertex", v.ID))
	return v.ID, nil
}

// writerQueueDepth approximates the DAG writer queue's depth as the number
// of vertices this node has submitted or admitted but not yet seen reach a
// terminal (Finalized/Rejected) state — the same pending set Run's frontier
// polls, since that's exactly the backlog a slow consensus sweep leaves
// sitting in front of the ledger-apply step.
func (p *Plane) writerQueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ShouldSendCover reports whether a cover circuit is due, suppressing cover
// traffic unconditionally once the writer queue is at its high-water mark —
// the first thing to go under load, before real submissions start failing
// Overloaded. A transport layer's cover-traffic loop calls this instead of
// onion.CoverDecision directly so it inherits that backpressure.
func (p *Plane) ShouldSendCover(rate float64) bool {
	if p.writerQueueDepth() >= p.params.WriterQueueHighWaterMark {
		return false
	}
	return onion.CoverDecision(rate)
}

// buildVertex parents payloadBytes on up to params.KMaxParents of the
// store's current tips (sorted for a deterministic choice when there are
// more tips than the parent budget allows) and signs it with this node's
// author key.
func (p *Plane) buildVertex(payloadBytes []byte) (*dag.Vertex, error) {
	parents := p.store.Tips()
	sort.Slice(parents, func(i, j int) bool { return idLess(parents[i], parents[j]) })
	if len(parents) > p.params.KMaxParents {
		parents = parents[:p.params.KMaxParents]
	}

	p.mu.Lock()
	p.tsCounter++
	ts := p.tsCounter
	p.mu.Unlock()

	v := &dag.Vertex{Parents: parents, Payload: payloadBytes, Timestamp: ts}
	if err := v.Sign(p.authorKey); err != nil {
		return nil, fmt.Errorf("control: sign vertex: %w", err)
	}
	return v, nil
}

func idLess(a, b ids.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// QueryVertex returns the vertex id, if known.
func (p *Plane) QueryVertex(id ids.ID) (v *dag.Vertex, ok bool) {
	v, ok = p.store.Get(id)
	p.metrics.observe("QueryVertex", nil)
	return v, ok
}

// GetBalance returns account's current balance and nonce.
func (p *Plane) GetBalance(account ids.ID) ledger.Account {
	p.metrics.observe("GetBalance", nil)
	return p.ledger.Account(account)
}

// Resolve looks name up through the dark resolver (C6).
func (p *Plane) Resolve(ctx context.Context, name string) (_ []byte, err error) {
	defer func() { p.metrics.observe("Resolve", err) }()
	return p.resolve.Resolve(ctx, name)
}

// ResolveShadow looks a shadow address up by fingerprint through the dark
// resolver (C6).
func (p *Plane) ResolveShadow(ctx context.Context, fp [32]byte) (_ []byte, err error) {
	defer func() { p.metrics.observe("ResolveShadow", err) }()
	return p.resolve.ResolveShadow(ctx, fp)
}

// RegisterDark registers record both locally (so it resolves immediately on
// this node) and as a KindAttest ledger payload signed by signerKey, so the
// registration propagates to every other node through the same consensus
// and finalization path every other ledger operation uses. A
// ShadowAddress (record.IsShadow()) is registered with RegisterShadow
// instead of Register.
func (p *Plane) RegisterDark(ctx context.Context, record *resolver.Record, signerKey *pqsig.PrivateKey) (_ ids.ID, err error) {
	defer func() { p.metrics.observe("RegisterDark", err) }()

	if record.IsShadow() {
		if err := p.resolve.RegisterShadow(ctx, record, p.clock().Unix()); err != nil {
			return ids.Empty, err
		}
	} else {
		if err := p.resolve.Register(ctx, record); err != nil {
			return ids.Empty, err
		}
	}

	recordBytes, err := record.Encode()
	if err != nil {
		return ids.Empty, fmt.Errorf("control: encode dark record: %w", err)
	}

	signerID := ids.ID(fingerprint.Hash(signerKey.PublicKey().Bytes()))
	payload := &ledger.Payload{
		Kind:   ledger.KindAttest,
		From:   signerID,
		Amount: uint256.NewInt(0),
		Extra:  recordBytes,
	}
	if err := payload.Sign(signerKey); err != nil {
		return ids.Empty, fmt.Errorf("control: sign attest payload: %w", err)
	}

	return p.SubmitTransaction(ctx, payload)
}

// SubscribeEvents subscribes to the event bus (C8), optionally filtered by
// category. The returned function unsubscribes.
func (p *Plane) SubscribeEvents(categories ...events.Category) (<-chan events.Event, func()) {
	id, ch := p.bus.Subscribe(categories...)
	return ch, func() { p.bus.Unsubscribe(id) }
}
