// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package onion

import (
	"fmt"

	"github.com/shadowmesh/core/crypto/aead"
	"github.com/shadowmesh/core/crypto/pqkem"
	"github.com/shadowmesh/core/errs"
)

// Peeled is the result of a hop decrypting exactly one onion layer.
type Peeled struct {
	// Deliver is true if this hop is the circuit's last hop: Payload then
	// holds the (unpadded) destination payload. Otherwise NextAddress and
	// Remainder must be forwarded on unchanged.
	Deliver     bool
	Payload     []byte
	NextAddress string
	Remainder   []byte
}

// Peel decrypts exactly one onion layer at a relay: sk is this hop's KEM
// private key, kemCiphertext is the ciphertext addressed to it, circuitAAD
// is the circuit id the sender bound the layer to, and layer is
// nonce‖ciphertext as produced by Circuit.Seal (or forwarded by a previous
// hop). Each hop learns only its predecessor (implicit, from the transport
// connection the frame arrived on) and successor (NextAddress) — never the
// full path.
func Peel(sk *pqkem.PrivateKey, kemCiphertext []byte, circuitAAD []byte, layer []byte) (*Peeled, error) {
	if len(layer) < aead.NonceSize {
		return nil, fmt.Errorf("%w: layer shorter than one nonce", errs.ErrLayerDecryptFailed)
	}
	nonce, ct := layer[:aead.NonceSize], layer[aead.NonceSize:]

	ss, err := sk.Decapsulate(kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulate: %v", errs.ErrLayerDecryptFailed, err)
	}
	// The hop's position in the circuit determines which HKDF info string
	// its key was derived with; a relay doesn't know its index a priori, so
	// it tries every index a circuit could plausibly use (bounded by the
	// configured max hop count) until one successfully opens the layer.
	// Honest senders always address a ciphertext to exactly one hop index,
	// so exactly one key (or none, if the layer is corrupt/foreign) opens.
	for index := 0; index < maxPlausibleHopIndex; index++ {
		key, err := deriveHopKey(ss, index)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrLayerDecryptFailed, err)
		}
		pt, err := aead.Open(key, nonce, circuitAAD, ct)
		if err != nil {
			continue
		}
		return decodePeeled(pt)
	}
	return nil, errs.ErrLayerDecryptFailed
}

// maxPlausibleHopIndex bounds Peel's index search: spec.md §4.5 caps a
// circuit at 7 hops, so no hop key is ever derived past index 6.
const maxPlausibleHopIndex = 7

func decodePeeled(body []byte) (*Peeled, error) {
	deliver, nextAddr, rest, err := decodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLayerDecryptFailed, err)
	}
	if deliver {
		payload, err := Unpad(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrLayerDecryptFailed, err)
		}
		return &Peeled{Deliver: true, Payload: payload}, nil
	}
	return &Peeled{Deliver: false, NextAddress: nextAddr, Remainder: rest}, nil
}
