// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package control implements the control plane (C9): the single place that
// wires C1 through C8 together and exposes the node's operations as plain
// Go methods. There is no RPC/HTTP surface here — spec.md's Non-goals
// explicitly exclude a wire transport, so Plane is transport-agnostic the
// same way the teacher's top-level Consensus type in consensus.go is a
// library entry point rather than a server: callers (a CLI, a future RPC
// adapter) embed Plane and decide how to expose it.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	apimetrics "github.com/shadowmesh/core/api/metrics"
	"github.com/shadowmesh/core/config"
	"github.com/shadowmesh/core/consensus"
	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/events"
	"github.com/shadowmesh/core/internal/xlog"
	"github.com/shadowmesh/core/ledger"
	"github.com/shadowmesh/core/onion"
	"github.com/shadowmesh/core/peer"
	"github.com/shadowmesh/core/resolver"
)

// VoteRequester is consensus.VoteRequester, re-exported so callers wiring a
// Plane don't need to import package consensus directly. Its production
// implementation runs a poll request over an onion circuit (C5); spec.md's
// Non-goals exclude the wire protocol that carries it, so Plane takes it as
// a dependency-injected seam the same way onion.HopSource and
// resolver.FallbackSource are.
type VoteRequester = consensus.VoteRequester

// Deps are the externally supplied pieces Plane cannot construct itself:
// storage backends and the network-facing seams spec.md's Non-goals put out
// of scope.
type Deps struct {
	VertexKV  dag.KV  // backs the DAG store
	PeerKV    peer.KV // backs the peer manager
	Requester VoteRequester
	Logger    log.Logger // may be nil

	// AuthorKey signs every vertex this node submits. Required.
	AuthorKey *pqsig.PrivateKey

	// GenesisID is the one vertex permitted zero parents.
	GenesisID ids.ID

	// Genesis, if non-nil, is admitted into the new store during
	// construction (its ID must equal GenesisID). A node joining an
	// existing network instead leaves this nil and relies on VertexKV
	// already holding a replayed genesis from a prior run.
	Genesis *dag.Vertex

	// IssuerPK, if non-nil, is passed to ledger.NewDefaultPolicyGate so
	// Mint payloads signed by this key are accepted. A node wanting the
	// threshold-certificate Mint policy instead should leave this nil and
	// wire its own ledger.PolicyGate via ledger.NewThresholdPolicyGate and
	// a MintRegistry (see mint.go) before constructing the Ledger, then
	// pass the resulting Ledger in via Deps.Ledger.
	IssuerPK []byte

	// Ledger, if non-nil, overrides the default ledger.New(...) construction
	// — the seam the threshold Mint policy above uses.
	Ledger ledger.Ledger

	// Registerer, if non-nil, turns on Prometheus instrumentation for the
	// event bus and the control-plane request surface. Nil disables metrics
	// entirely rather than registering against a default global registry,
	// so tests constructing multiple Planes never collide on metric names.
	// Typed as the pack's api/metrics.Registerer rather than a bare
	// prometheus.Registerer so a caller can hand Plane the same Registerer
	// it threads through any other api/metrics-instrumented component.
	Registerer apimetrics.Registerer
}

// Plane is the control plane (C9): it owns C2-C8's instances and drives the
// consensus/finalization/ledger-apply loop.
type Plane struct {
	mu sync.Mutex

	log    log.Logger
	params config.Parameters

	store    dag.Store
	ledger   ledger.Ledger
	engine   *consensus.Engine
	peers    peer.Manager
	resolve  resolver.Resolver
	bus      *events.Bus
	hops     *PeerDirectory
	circuits *onion.Builder

	authorKey *pqsig.PrivateKey
	attestIdx *attestIndex
	metrics   *planeMetrics // nil unless Deps.Registerer is set

	// pending tracks vertex ids submitted by this node (or admitted from a
	// peer) that are not yet Finalized/Rejected, so Run's frontier function
	// has something to poll and processFinalized knows what to check.
	pending   map[ids.ID]struct{}
	tsCounter uint64
	clock     func() time.Time
}

// New constructs a Plane from params and deps. It builds the DAG store,
// ledger, consensus engine, peer manager, dark resolver, event bus, and
// onion circuit builder, wiring the ledger's AdmissionHook into both the
// store and the consensus engine's conflict-key function (they must agree
// on conflict-set membership).
func New(params config.Parameters, deps Deps) (*Plane, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.AuthorKey == nil {
		return nil, fmt.Errorf("control: AuthorKey is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = xlog.NoOp()
	}

	var bus *events.Bus
	var planeMet *planeMetrics
	if deps.Registerer != nil {
		var err error
		bus, err = events.NewBusWithMetrics(events.DefaultBufferSize, logger, deps.Registerer)
		if err != nil {
			return nil, fmt.Errorf("control: event bus metrics: %w", err)
		}
		planeMet, err = newPlaneMetrics(deps.Registerer)
		if err != nil {
			return nil, fmt.Errorf("control: control-plane metrics: %w", err)
		}
	} else {
		bus = events.NewBus(events.DefaultBufferSize, logger)
	}

	led := deps.Ledger
	if led == nil {
		led = ledger.New(params.BaseFee, params.MaxFee, nil, ledger.NewDefaultPolicyGate(deps.IssuerPK), logger)
	}

	store, err := dag.NewStore(deps.VertexKV, logger, params.KMaxParents, params.MaxPayload, deps.GenesisID, led.AdmissionHook)
	if err != nil {
		return nil, fmt.Errorf("control: dag store: %w", err)
	}

	// Captured before any fresh Deps.Genesis admission below, so it reflects
	// only what NewStore's replay recovered from a prior run. A genesis this
	// construction admits itself (on a brand-new node) is not added to
	// pending: it is marked Finalized right after admission below.
	pending := make(map[ids.ID]struct{})
	for _, id := range store.Pending() {
		pending[id] = struct{}{}
	}

	if deps.Genesis != nil {
		if deps.Genesis.ID != deps.GenesisID {
			return nil, fmt.Errorf("control: Genesis.ID does not match GenesisID")
		}
		// DuplicateVertex is expected on a restart, where VertexKV already
		// replayed genesis from a prior run.
		if result, err := store.Admit(deps.Genesis); err != nil {
			return nil, fmt.Errorf("control: admit genesis: %w", err)
		} else if result == dag.RejectedVertex {
			return nil, fmt.Errorf("control: genesis vertex rejected")
		} else if result == dag.Admitted {
			// Genesis has no parents and no conflict set to vote on; the engine
			// only finalizes a vertex whose parents are Accepted or Finalized,
			// so genesis is finalized here for its children to finalize at all.
			if err := store.SetState(deps.Genesis.ID, dag.StateAccepted); err != nil {
				return nil, fmt.Errorf("control: accept genesis: %w", err)
			}
			if err := store.SetState(deps.Genesis.ID, dag.StateFinalized); err != nil {
				return nil, fmt.Errorf("control: finalize genesis: %w", err)
			}
		}
	}

	peers, err := peer.New(deps.PeerKV, logger,
		peer.WithAutoBanThreshold(int32(params.AutoBanThreshold)),
		peer.WithBanCooldown(params.BanCooldown),
	)
	if err != nil {
		return nil, fmt.Errorf("control: peer manager: %w", err)
	}

	idx := newAttestIndex()
	dark := resolver.New(idx, logger)

	engine, err := consensus.New(
		consensus.Parameters{
			K:               params.K,
			AlphaPreference: params.AlphaPreference,
			AlphaConfidence: params.AlphaPreference,
			Beta:            params.Beta,
			BetaFinalize:    params.BetaFinalize,
			MaxRounds:       params.MaxRounds,
		},
		store,
		&peerSampler{mgr: peers, repMin: int32(params.ReputationMin)},
		deps.Requester,
		led.AdmissionHook,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("control: consensus engine: %w", err)
	}

	hops := NewPeerDirectory(peers, int32(params.ReputationMin))
	circuits, err := onion.NewBuilder(hops, params.HopsMin, params.HopsMax, logger)
	if err != nil {
		return nil, fmt.Errorf("control: onion builder: %w", err)
	}

	return &Plane{
		log:       logger,
		params:    params,
		store:     store,
		ledger:    led,
		engine:    engine,
		peers:     peers,
		resolve:   dark,
		bus:       bus,
		hops:      hops,
		circuits:  circuits,
		authorKey: deps.AuthorKey,
		attestIdx: idx,
		metrics:   planeMet,
		pending:   pending,
		clock:     time.Now,
	}, nil
}

// peerSampler adapts peer.Manager to consensus.PeerSampler, filtering out
// banned/disconnected/low-reputation peers via peer.Manager.Sample.
type peerSampler struct {
	mgr    peer.Manager
	repMin int32
}

func (s *peerSampler) Sample(k int) ([]ids.NodeID, error) {
	return s.mgr.Sample(k, s.repMin), nil
}

// Peers returns the underlying peer manager (C7), for callers that need to
// drive Connect/Disconnect/RecordSuccess/RecordFailure directly off their
// transport layer.
func (p *Plane) Peers() peer.Manager { return p.peers }

// Events returns the event bus (C8) so callers can subscribe independently
// of SubscribeEvents.
func (p *Plane) Events() *events.Bus { return p.bus }

// Directory returns the onion hop directory so a transport layer can
// Announce newly handshaked peers' KEM keys.
func (p *Plane) Directory() *PeerDirectory { return p.hops }

func (p *Plane) publish(category events.Category, kind, detail string) {
	p.bus.Publish(events.Event{Category: category, Kind: kind, Detail: detail, At: p.clock()})
}
