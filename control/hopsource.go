// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/ids"

	"github.com/shadowmesh/core/crypto/pqkem"
	"github.com/shadowmesh/core/peer"
)

// hopEntry is one peer's announced circuit-hop material: the KEM public key
// a Builder encapsulates to, and the network address a forward frame
// (onion.go's encodeForwardBody) carries onward.
type hopEntry struct {
	pub  *pqkem.PublicKey
	addr string
}

// PeerDirectory implements onion.HopSource over the peer manager (C7): it
// samples candidate hops from C7's reputation-filtered connected set and
// resolves a chosen hop's KEM key from a directory populated out-of-band by
// Announce, the method a transport layer calls once a peer handshake
// establishes that peer's current KEM key and address. Maintaining this
// mapping is not itself spec'd (spec.md's Non-goals exclude the wire
// handshake protocol); PeerDirectory only owns the data structure a real
// handshake implementation would populate.
type PeerDirectory struct {
	mu      sync.RWMutex
	peers   peer.Manager
	repMin  int32
	entries map[ids.NodeID]hopEntry
}

// NewPeerDirectory constructs a PeerDirectory sampling candidates from mgr,
// excluding peers whose reputation is below repMin.
func NewPeerDirectory(mgr peer.Manager, repMin int32) *PeerDirectory {
	return &PeerDirectory{
		peers:   mgr,
		repMin:  repMin,
		entries: make(map[ids.NodeID]hopEntry),
	}
}

// Announce registers (or refreshes) a peer's current hop key/address.
func (d *PeerDirectory) Announce(id ids.NodeID, pub *pqkem.PublicKey, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = hopEntry{pub: pub, addr: addr}
}

// Forget removes a peer from the directory, e.g. on disconnect.
func (d *PeerDirectory) Forget(id ids.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Candidates is part of onion.HopSource.
func (d *PeerDirectory) Candidates(_ context.Context, destination ids.NodeID, exclude []ids.NodeID) ([]ids.NodeID, error) {
	excluded := make(map[ids.NodeID]bool, len(exclude)+1)
	excluded[destination] = true
	for _, id := range exclude {
		excluded[id] = true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	sampled := d.peers.Sample(len(d.entries), d.repMin)
	out := make([]ids.NodeID, 0, len(sampled))
	for _, id := range sampled {
		if excluded[id] {
			continue
		}
		if _, ok := d.entries[id]; !ok {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// HopKey is part of onion.HopSource.
func (d *PeerDirectory) HopKey(_ context.Context, peerID ids.NodeID) (*pqkem.PublicKey, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[peerID]
	if !ok {
		return nil, "", fmt.Errorf("control: no announced hop key for peer %s", peerID)
	}
	return entry.pub, entry.addr, nil
}
