// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pqsig wraps the module-lattice signature scheme (ML-DSA-65, FIPS
// 204, NIST security level 3) used for vertex authorship and ledger payload
// signatures (spec.md §4.1).
package pqsig

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/crypto/mldsa"
)

const Algorithm = "ML-DSA-65"

// PublicKey and PrivateKey wrap the mode-parameterized ML-DSA-65 keys.
type PublicKey struct{ pub *mldsa.PublicKey }

type PrivateKey struct {
	priv *mldsa.PrivateKey
	pub  *PublicKey
}

// Keypair generates a fresh ML-DSA-65 keypair.
func Keypair() (*PrivateKey, error) {
	sk, pk, err := mldsa.GenerateKey(rand.Reader, mldsa.MLDSA65)
	if err != nil {
		return nil, fmt.Errorf("pqsig: keypair generation failed: %w", err)
	}
	return &PrivateKey{priv: sk, pub: &PublicKey{pub: pk}}, nil
}

// PublicKey returns the public half of sk.
func (sk *PrivateKey) PublicKey() *PublicKey { return sk.pub }

// Bytes returns the canonical private-key encoding.
func (sk *PrivateKey) Bytes() []byte { return sk.priv.Bytes() }

// Zero overwrites the private key's secret material in place.
func (sk *PrivateKey) Zero() {
	b := sk.priv.Bytes()
	for i := range b {
		b[i] = 0
	}
}

// Bytes returns the canonical public-key encoding, also used as the public
// key identifier throughout the DAG, ledger, and resolver.
func (pk *PublicKey) Bytes() []byte { return pk.pub.Bytes() }

// PublicKeyFromBytes parses an ML-DSA-65 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	pub, err := mldsa.PublicKeyFromBytes(b, mldsa.MLDSA65)
	if err != nil {
		return nil, fmt.Errorf("pqsig: invalid public key: %w", err)
	}
	return &PublicKey{pub: pub}, nil
}

// Sign signs msg, returning the detached ML-DSA-65 signature.
func (sk *PrivateKey) Sign(msg []byte) ([]byte, error) {
	sig, err := sk.priv.Sign(rand.Reader, msg)
	if err != nil {
		return nil, fmt.Errorf("pqsig: sign failed: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid ML-DSA-65 signature over msg by pk.
// Verification runs in constant time over the signature bytes as required
// by spec.md §4.1.
func (pk *PublicKey) Verify(msg, sig []byte) bool {
	return pk.pub.Verify(msg, sig, nil)
}

// Capabilities mirrors pqkem.Capabilities for the signature scheme.
type Capabilities struct {
	PQEnabled bool
	Algorithm string
}

func Report() Capabilities {
	return Capabilities{PQEnabled: true, Algorithm: Algorithm}
}
