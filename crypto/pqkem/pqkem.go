// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pqkem wraps the module-lattice KEM (ML-KEM-768, FIPS 203, NIST
// security level 3) used for circuit-hop key agreement (spec.md §4.1/§4.5).
// The wrapper is deliberately thin: github.com/luxfi/crypto/mlkem already
// implements the constant-time lattice arithmetic; this package only fixes
// the parameter set and exposes the three verbs spec.md names.
package pqkem

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/crypto/mlkem"
)

// Algorithm names reported via Capabilities.
const (
	AlgorithmPQ        = "ML-KEM-768"
	AlgorithmClassical = "X25519" // name only; no build of this package selects it
)

// PublicKey and PrivateKey wrap the underlying mode-parameterized keys so
// callers never need to pass the mode around.
type PublicKey struct{ pk *mlkem.PublicKey }

type PrivateKey struct {
	sk *mlkem.PrivateKey
	pk *PublicKey
}

// Keypair generates a fresh ML-KEM-768 keypair.
func Keypair() (*PrivateKey, error) {
	sk, pk, err := mlkem.GenerateKey(rand.Reader, mlkem.MLKEM768)
	if err != nil {
		return nil, fmt.Errorf("pqkem: keypair generation failed: %w", err)
	}
	return &PrivateKey{sk: sk, pk: &PublicKey{pk: pk}}, nil
}

// PublicKey returns the public half of sk.
func (sk *PrivateKey) PublicKey() *PublicKey { return sk.pk }

// Bytes returns the canonical encoding of the private key. Callers MUST zero
// the returned slice once they are done with it (see Zero).
func (sk *PrivateKey) Bytes() []byte { return sk.sk.Bytes() }

// Zero overwrites the private key's secret material in place.
func (sk *PrivateKey) Zero() {
	b := sk.sk.Bytes()
	for i := range b {
		b[i] = 0
	}
}

// Bytes returns the canonical encoding of the public key.
func (pk *PublicKey) Bytes() []byte { return pk.pk.Bytes() }

// PublicKeyFromBytes parses an ML-KEM-768 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	pk, err := mlkem.PublicKeyFromBytes(b, mlkem.MLKEM768)
	if err != nil {
		return nil, fmt.Errorf("pqkem: invalid public key: %w", err)
	}
	return &PublicKey{pk: pk}, nil
}

// Encapsulate generates a fresh ciphertext and shared secret bound to pk.
// Every call produces fresh randomness; no long-term hop keys are reused
// across circuits (spec.md §4.5 forward secrecy requirement).
func (pk *PublicKey) Encapsulate() (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := pk.pk.Encapsulate()
	if err != nil {
		return nil, nil, fmt.Errorf("pqkem: encapsulate failed: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret sk's owner derived during
// Encapsulate.
func (sk *PrivateKey) Decapsulate(ciphertext []byte) ([]byte, error) {
	ss, err := sk.sk.Decapsulate(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("pqkem: decapsulate failed: %w", err)
	}
	return ss, nil
}

// Capabilities reports which KEM this build uses, satisfying spec.md §4.1's
// requirement that a classical stub advertise itself.
type Capabilities struct {
	PQEnabled bool
	Algorithm string
}

// Report returns this build's KEM capabilities. The module-lattice path is
// the only KEM this package implements, so Report always advertises it; no
// classical fallback build exists.
func Report() Capabilities {
	return Capabilities{PQEnabled: true, Algorithm: AlgorithmPQ}
}
