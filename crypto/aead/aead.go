// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aead implements spec.md §4.1's authenticated-encryption primitive:
// a 256-bit key, 96-bit nonce, 128-bit tag AEAD used both to seal ledger
// payload secrets at rest and to layer-encrypt onion circuit messages
// (spec.md §4.5). It is a thin wrapper over golang.org/x/crypto/chacha20poly1305.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize   // 32 bytes
	NonceSize = chacha20poly1305.NonceSize // 12 bytes
	TagSize   = 16
)

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("aead: key generation failed: %w", err)
	}
	return key, nil
}

// GenerateNonce returns a fresh random 96-bit nonce. Callers that seal many
// messages under one key (e.g. a circuit's per-hop key across a session)
// MUST use a counter instead — see NewCounterNonce — since a nonce must
// never repeat under the same key.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: nonce generation failed: %w", err)
	}
	return nonce, nil
}

// CounterNonce derives monotonically increasing nonces from a per-circuit
// counter, the pattern spec.md §3's Circuit nonce counter requires.
type CounterNonce struct {
	prefix  [4]byte
	counter uint64
}

// NewCounterNonce seeds a counter nonce from a random 4-byte prefix so two
// circuits never collide even if their counters start at zero together.
func NewCounterNonce() (*CounterNonce, error) {
	var prefix [4]byte
	if _, err := rand.Read(prefix[:]); err != nil {
		return nil, fmt.Errorf("aead: counter nonce seed failed: %w", err)
	}
	return &CounterNonce{prefix: prefix}, nil
}

// Next returns the next 96-bit nonce and advances the counter.
func (c *CounterNonce) Next() []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce[:4], c.prefix[:])
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(c.counter >> (8 * (7 - i)))
	}
	c.counter++
	return nonce
}

// Seal encrypts and authenticates pt under key/nonce/aad.
func Seal(key, nonce, aad, pt []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: invalid key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: invalid nonce length %d", len(nonce))
	}
	return aead.Seal(nil, nonce, pt, aad), nil
}

// Open authenticates and decrypts ct under key/nonce/aad. A failed check
// (wrong key, nonce, aad, or tampered ciphertext) returns a non-nil error;
// callers in the onion layer map this to the LayerDecryptFailed error kind.
func Open(key, nonce, aad, ct []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: invalid key: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: open failed: %w", err)
	}
	return pt, nil
}
