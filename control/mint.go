// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/luxfi/ringtail/threshold"

	"github.com/shadowmesh/core/crypto/pq"
	"github.com/shadowmesh/core/ledger"
)

// MintRegistry implements ledger.ThresholdVerifier over an in-memory table
// of completed Ringtail certificates, resolving SPEC_FULL.md's Mint policy
// as a t-of-n cosigner certificate rather than a single issuer key (see
// crypto/pq's package doc). ledger.Payload.Extra, the "certificate" bytes
// ThresholdVerifier receives, is not a serialized threshold.Signature —
// github.com/luxfi/ringtail/threshold exposes no documented wire encoding
// for one in this pack, and fabricating one would mean guessing an external
// API this repo doesn't own. Instead Extra carries an 8-byte big-endian
// certificate id that indexes into this registry, populated by whichever
// cosigner session (crypto/pq.Certify, run out-of-band by the validator set
// minting a new voucher) finishes first. This mirrors how the ledger
// already treats Mint.Extra as fully opaque: it is never decoded by the
// ledger itself, only handed to the verifier closure.
type MintRegistry struct {
	mu    sync.RWMutex
	group *threshold.GroupKey
	certs map[uint64]*threshold.Signature
	next  uint64
}

// NewMintRegistry constructs a MintRegistry verifying against group, the
// policy group's public certificate key (from crypto/pq.GenerateCosigners).
func NewMintRegistry(group *threshold.GroupKey) *MintRegistry {
	return &MintRegistry{group: group, certs: make(map[uint64]*threshold.Signature)}
}

// Register stores a completed certificate and returns the 8-byte id to
// place in a Mint payload's Extra field.
func (r *MintRegistry) Register(sig *threshold.Signature) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.certs[id] = sig
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	return idBytes
}

// Verifier returns a ledger.ThresholdVerifier closure bound to this
// registry, for ledger.NewThresholdPolicyGate.
func (r *MintRegistry) Verifier() ledger.ThresholdVerifier {
	return func(message string, certificate []byte) bool {
		if len(certificate) != 8 {
			return false
		}
		id := binary.BigEndian.Uint64(certificate)

		r.mu.RLock()
		sig, ok := r.certs[id]
		group := r.group
		r.mu.RUnlock()
		if !ok {
			return false
		}
		return pq.Verify(group, message, sig) == nil
	}
}

// Forget discards a certificate after its Mint payload is no longer
// pending, bounding the registry's size. Safe to call on an unknown id.
func (r *MintRegistry) Forget(certificate []byte) error {
	if len(certificate) != 8 {
		return fmt.Errorf("control: malformed certificate id, want 8 bytes, got %d", len(certificate))
	}
	id := binary.BigEndian.Uint64(certificate)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.certs, id)
	return nil
}
