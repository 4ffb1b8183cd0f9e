// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package onion

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/crypto/aead"
	"github.com/shadowmesh/core/crypto/pqkem"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/internal/xlog"
)

// randomCircuitID draws a fresh random circuit identifier, the same way
// crypto/aead draws fresh keys/nonces: crypto/rand directly, since a
// circuit id is a session handle rather than content-addressed like a
// dag.Vertex's id.
func randomCircuitID() (ids.ID, error) {
	var b [32]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return ids.ID{}, fmt.Errorf("onion: circuit id generation failed: %w", err)
	}
	return ids.ID(b), nil
}

// HopSource selects candidate hops for a circuit and resolves a chosen
// peer's current ML-KEM-768 public key and forwarding address. C7 (peer
// manager) and C6 (dark resolver) are its production implementations —
// peer manager for reputation-filtered candidate selection, resolver for
// address lookup when a hop is known only by name.
type HopSource interface {
	// Candidates returns peers eligible to act as a hop for a circuit bound
	// for destination, excluding destination itself and anything already
	// in exclude. Implementations apply the reputation-threshold and
	// locator-diversity preferences spec.md §4.5 describes; onion itself
	// only enforces hop count and uniqueness.
	Candidates(ctx context.Context, destination ids.NodeID, exclude []ids.NodeID) ([]ids.NodeID, error)
	// HopKey returns peer's current KEM public key and its forwarding
	// address.
	HopKey(ctx context.Context, peer ids.NodeID) (*pqkem.PublicKey, string, error)
}

// Hop is one relay in a built Circuit.
type Hop struct {
	Peer    ids.NodeID
	Address string

	ciphertext []byte // sent to the hop so it can Decapsulate
	key        []byte // derived AEAD key, held only by the builder for sealing
}

// Circuit is a built onion path: an ordered hop list plus the fresh AEAD
// keys used to layer-encrypt messages along it. Every circuit uses fresh
// KEM encapsulations and is discarded after teardown — no hop key is ever
// reused across circuits.
type Circuit struct {
	mu     sync.Mutex
	ID     ids.ID
	Hops   []Hop
	closed bool
}

// Closed reports whether Close has been called on this circuit.
func (c *Circuit) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the circuit down. In-flight Seal calls against a closed
// circuit fail with errs.ErrCircuitClosed; teardown is local-only here —
// propagating the teardown to each hop is C9's job, since that requires the
// transport the Non-goals keep out of this package's scope.
func (c *Circuit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Builder constructs circuits of between minHops and maxHops hops,
// inclusive, per spec.md §4.5's [3,7] range (config.Parameters.HopsMin/Max
// feed these at construction).
type Builder struct {
	log     log.Logger
	source  HopSource
	minHops int
	maxHops int
}

// NewBuilder constructs a Builder. logger may be nil.
func NewBuilder(source HopSource, minHops, maxHops int, logger log.Logger) (*Builder, error) {
	if minHops < 1 || maxHops < minHops {
		return nil, fmt.Errorf("onion: invalid hop range [%d,%d]", minHops, maxHops)
	}
	if logger == nil {
		logger = xlog.NoOp()
	}
	return &Builder{log: logger, source: source, minHops: minHops, maxHops: maxHops}, nil
}

// Build selects hops for a circuit to destination and performs one KEM
// encapsulation per hop, deriving each hop's AEAD key.
func (b *Builder) Build(ctx context.Context, destination ids.NodeID, hopCount int) (*Circuit, error) {
	if hopCount < b.minHops || hopCount > b.maxHops {
		return nil, fmt.Errorf("%w: hop count %d out of range [%d,%d]", errs.ErrCircuitBuildFailed, hopCount, b.minHops, b.maxHops)
	}

	chosen := make([]ids.NodeID, 0, hopCount)
	for len(chosen) < hopCount {
		candidates, err := b.source.Candidates(ctx, destination, chosen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrCircuitBuildFailed, err)
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: insufficient eligible hops (have %d, need %d)", errs.ErrCircuitBuildFailed, len(chosen), hopCount)
		}
		chosen = append(chosen, candidates[0])
	}

	hops := make([]Hop, hopCount)
	for i, peer := range chosen {
		pk, addr, err := b.source.HopKey(ctx, peer)
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d (%s): %v", errs.ErrHopUnreachable, i, peer, err)
		}
		ct, ss, err := pk.Encapsulate()
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d encapsulation: %v", errs.ErrCircuitBuildFailed, i, err)
		}
		key, err := deriveHopKey(ss, i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrCircuitBuildFailed, err)
		}
		hops[i] = Hop{Peer: peer, Address: addr, ciphertext: ct, key: key}
	}

	circuitID, err := randomCircuitID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCircuitBuildFailed, err)
	}
	c := &Circuit{ID: circuitID, Hops: hops}
	b.log.Debug("circuit built", log.Int("hops", hopCount), log.Stringer("destination", destination))
	return c, nil
}

// Seal encrypts payload in reverse hop order per spec.md §4.5 step 3: the
// innermost layer carries the destination payload, and each layer outward
// wraps the previous one under that hop's key, recording the next hop's
// address so the recipient knows where to forward it. The returned frame is
// what the first hop receives, paired with that hop's KEM ciphertext.
func (c *Circuit) Seal(payload []byte) (kemCiphertext []byte, frame []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errs.ErrCircuitClosed
	}
	if len(c.Hops) == 0 {
		return nil, nil, fmt.Errorf("%w: circuit has no hops", errs.ErrCircuitBuildFailed)
	}

	padded, err := Pad(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrCircuitBuildFailed, err)
	}

	body := encodeDeliverBody(padded)
	counter, err := aead.NewCounterNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrCircuitBuildFailed, err)
	}

	for i := len(c.Hops) - 1; i >= 0; i-- {
		hop := c.Hops[i]
		nonce := counter.Next()
		sealed, err := aead.Seal(hop.key, nonce, c.ID[:], body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: hop %d: %v", errs.ErrCircuitBuildFailed, i, err)
		}
		layer := append(append([]byte(nil), nonce...), sealed...)
		if i == 0 {
			body = layer
			break
		}
		body = encodeForwardBody(c.Hops[i].Address, layer)
	}

	return c.Hops[0].ciphertext, body, nil
}
