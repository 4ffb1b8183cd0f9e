// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the per-vertex QR-Avalanche voting engine
// that drives a dag.Store's vertices from Pending through Accepted (or
// Rejected) and on to Finalized (or Rejected). It repeatedly samples a
// committee of peers, tallies their preferences within a vertex's conflict
// set, and advances a Snowball-style confidence counter the same way the
// teacher's wave.BinaryThreshold advances a binary one — generalized here
// to n-ary conflict sets of arbitrary size, including the common case of a
// vertex with no conflict at all.
package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/internal/xlog"
)

// Parameters are the QR-Avalanche sampling and confidence knobs.
type Parameters struct {
	// K is the committee size sampled on each poll round.
	K int
	// AlphaPreference is the minimum vote count for a candidate to become
	// this node's preference within its conflict set.
	AlphaPreference int
	// AlphaConfidence is the minimum vote count for a preferred candidate's
	// poll round to count toward its confidence counter.
	AlphaConfidence int
	// Beta is the number of consecutive confident rounds required to
	// Accept a vertex (and Reject every other candidate in its conflict
	// set).
	Beta int
	// BetaFinalize is the number of additional consecutive confident
	// rounds, after Accept, required to Finalize.
	BetaFinalize int
	// MaxRounds bounds how long a single instance polls before the
	// liveness fallback rejects every candidate in its conflict set.
	MaxRounds int
}

// Validate reports whether p describes a usable parameter set.
func (p Parameters) Validate() error {
	switch {
	case p.K <= 0:
		return fmt.Errorf("consensus: K must be positive, got %d", p.K)
	case p.AlphaPreference <= 0 || p.AlphaPreference > p.K:
		return fmt.Errorf("consensus: AlphaPreference must be in (0, K=%d], got %d", p.K, p.AlphaPreference)
	case p.AlphaConfidence < p.AlphaPreference || p.AlphaConfidence > p.K:
		return fmt.Errorf("consensus: AlphaConfidence must be in [AlphaPreference=%d, K=%d], got %d", p.AlphaPreference, p.K, p.AlphaConfidence)
	case p.Beta <= 0:
		return fmt.Errorf("consensus: Beta must be positive, got %d", p.Beta)
	case p.BetaFinalize <= 0:
		return fmt.Errorf("consensus: BetaFinalize must be positive, got %d", p.BetaFinalize)
	case p.MaxRounds <= 0:
		return fmt.Errorf("consensus: MaxRounds must be positive, got %d", p.MaxRounds)
	}
	return nil
}

// PeerSampler draws a committee of k distinct peers to query for one poll
// round. C7 (peer manager) is the production implementation.
type PeerSampler interface {
	Sample(k int) ([]ids.NodeID, error)
}

// VoteRequester asks one sampled peer for its current preference among the
// candidates in a conflict set. The returned id must be one of candidates,
// or ids.Empty if the peer has no opinion yet (counted as an abstention).
type VoteRequester interface {
	RequestPreference(ctx context.Context, peer ids.NodeID, candidates []ids.ID) (ids.ID, error)
}

// KeyFunc derives a vertex's conflict-set key, identically to
// dag.AdmissionHook — the engine and the store must agree on conflict-set
// membership, so C4/C9 wiring passes the same function to both.
type KeyFunc func(v *dag.Vertex) (key string, has bool)

// instance is one Snowball-style voting round-tracker, shared by every
// vertex in a conflict set (or owned alone by a vertex with no conflict).
type instance struct {
	preference         ids.ID
	confidence         int // consecutive confident rounds toward Accept
	finalizeConfidence int // consecutive confident rounds toward Finalize, post-Accept
	rounds             int
	accepted           bool
}

// Engine drives Pending vertices to Accepted/Rejected and Accepted vertices
// to Finalized/Rejected by repeated committee sampling.
type Engine struct {
	mu     sync.Mutex
	log    log.Logger
	params Parameters

	store     dag.Store
	sampler   PeerSampler
	requester VoteRequester
	keyFunc   KeyFunc

	instances map[string]*instance
}

// New constructs an Engine. logger may be nil, in which case a no-op
// logger is used.
func New(params Parameters, store dag.Store, sampler PeerSampler, requester VoteRequester, keyFunc KeyFunc, logger log.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = xlog.NoOp()
	}
	return &Engine{
		log:       logger,
		params:    params,
		store:     store,
		sampler:   sampler,
		requester: requester,
		keyFunc:   keyFunc,
		instances: make(map[string]*instance),
	}, nil
}

// instanceKey returns the shared-instance key for v: its conflict key if it
// has one, or a key private to v's own id otherwise.
func (e *Engine) instanceKey(v *dag.Vertex) (string, []ids.ID) {
	if e.keyFunc != nil {
		if key, ok := e.keyFunc(v); ok {
			return "c:" + key, e.store.ConflictSet(key)
		}
	}
	return "v:" + v.ID.String(), []ids.ID{v.ID}
}

// lexLeast returns the lexicographically smallest id in ids, used to break
// ties deterministically so every honest node converges on the same
// preference without needing a tiebreak round.
func lexLeast(candidates []ids.ID) ids.ID {
	least := candidates[0]
	for _, id := range candidates[1:] {
		if bytesLess(id[:], least[:]) {
			least = id
		}
	}
	return least
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Poll runs one voting round for the vertex id. It is a no-op if the
// vertex is unknown or already terminal (Finalized/Rejected).
func (e *Engine) Poll(ctx context.Context, id ids.ID) error {
	v, ok := e.store.Get(id)
	if !ok {
		return nil
	}
	if v.State == dag.StateFinalized || v.State == dag.StateRejected {
		return nil
	}

	key, candidates := e.instanceKey(v)
	if len(candidates) == 0 {
		candidates = []ids.ID{id}
	}

	e.mu.Lock()
	inst, ok := e.instances[key]
	if !ok {
		inst = &instance{preference: lexLeast(candidates)}
		e.instances[key] = inst
	}
	e.mu.Unlock()

	peers, err := e.sampler.Sample(e.params.K)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInsufficientPeers, err)
	}
	if len(peers) == 0 {
		return errs.ErrInsufficientPeers
	}

	tally := make(map[ids.ID]int, len(candidates))
	for _, peer := range peers {
		pref, err := e.requester.RequestPreference(ctx, peer, candidates)
		if err != nil {
			continue // treat an unreachable peer as an abstention, not a failure
		}
		if pref == ids.Empty {
			continue
		}
		tally[pref]++
	}

	leader, leaderVotes := ids.Empty, -1
	for _, c := range candidates {
		if tally[c] > leaderVotes {
			leader, leaderVotes = c, tally[c]
		} else if tally[c] == leaderVotes && bytesLess(c[:], leader[:]) {
			leader = c
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if leaderVotes >= e.params.AlphaPreference {
		inst.preference = leader
	}

	confident := leaderVotes >= e.params.AlphaConfidence && leader == inst.preference
	inst.rounds++

	if !inst.accepted {
		if confident {
			inst.confidence++
		} else {
			inst.confidence = 0
		}

		switch {
		case inst.confidence >= e.params.Beta:
			return e.accept(inst, candidates)
		case inst.rounds >= e.params.MaxRounds:
			e.log.Debug("max rounds exceeded while still ambiguous, rejecting",
				log.Stringer("preference", inst.preference),
				log.Int("rounds", inst.rounds),
			)
			return e.reject(inst, candidates)
		}
		return nil
	}

	// Post-accept: keep polling for BetaFinalize confident rounds, then
	// finalize once every ancestor is itself Accepted or Finalized.
	if confident {
		inst.finalizeConfidence++
	} else {
		inst.finalizeConfidence = 0
	}
	if inst.finalizeConfidence >= e.params.BetaFinalize {
		return e.finalize(inst.preference)
	}
	return nil
}

// accept marks inst's preference Accepted and rejects every other
// candidate sharing its conflict set, per the "Rejected parent implies
// Rejected descendants" propagation the store already performs.
func (e *Engine) accept(inst *instance, candidates []ids.ID) error {
	inst.accepted = true
	inst.confidence = 0
	if err := e.store.SetState(inst.preference, dag.StateAccepted); err != nil {
		return err
	}
	for _, c := range candidates {
		if c == inst.preference {
			continue
		}
		if err := e.store.SetState(c, dag.StateRejected); err != nil {
			return err
		}
	}
	e.log.Debug("vertex accepted", log.Stringer("id", inst.preference))
	return nil
}

// reject is the MaxRounds liveness fallback: an instance that never reached
// Beta confident rounds stays ambiguous, and the chosen outcome for that case
// is Rejected, not Accepted, so every candidate in the conflict set is
// rejected rather than forcing inst.preference through.
func (e *Engine) reject(inst *instance, candidates []ids.ID) error {
	inst.confidence = 0
	for _, c := range candidates {
		if err := e.store.SetState(c, dag.StateRejected); err != nil {
			return err
		}
	}
	e.log.Debug("vertex rejected", log.Int("candidates", len(candidates)))
	return nil
}

// finalize marks id Finalized if every one of its parents is already
// Accepted or Finalized (the ancestor-accepted invariant); otherwise it
// defers, since its ancestors will themselves finalize on their own
// instance's schedule and a later Poll call will observe the precondition
// satisfied.
func (e *Engine) finalize(id ids.ID) error {
	v, ok := e.store.Get(id)
	if !ok {
		return nil
	}
	for _, p := range v.Parents {
		parent, ok := e.store.Get(p)
		if !ok {
			return fmt.Errorf("%w: unknown ancestor %s", errs.ErrConflictUnresolved, p)
		}
		if parent.State != dag.StateAccepted && parent.State != dag.StateFinalized {
			return nil
		}
	}
	if err := e.store.SetState(id, dag.StateFinalized); err != nil {
		return err
	}
	e.log.Debug("vertex finalized", log.Stringer("id", id))
	return nil
}

// Load returns the number of conflict-set instances this engine is still
// actively polling — neither rejected by the MaxRounds fallback nor through
// BetaFinalize confident rounds after Accept. The ledger's default fee
// function uses this as a coarse backlog signal.
func (e *Engine) Load() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, inst := range e.instances {
		if !inst.accepted && inst.rounds >= e.params.MaxRounds {
			continue // rejected by the MaxRounds fallback
		}
		if !inst.accepted ||inst.finalizeConfidence < e.params.BetaFinalize {
			n++
		}
	}
	return n
}

// Run polls every id frontier() returns, once per call, stopping early if
// ctx is cancelled. Callers (C9's control plane) own the scheduling loop
// and interval; Run does one sweep.
func (e *Engine) Run(ctx context.Context, frontier func() []ids.ID) error {
	for _, id := range frontier() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Poll(ctx, id); err != nil {
			e.log.Debug("poll error", log.Stringer("id", id), log.Err(err))
		}
	}
	return nil
}
