// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag implements the DAG store (C2): the append-only vertex graph
// that the consensus engine (C3) samples over and mutates state on. A
// Vertex is the unit of consensus; the Store is its exclusive owner.
package dag

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/shadowmesh/core/crypto/fingerprint"
	"github.com/shadowmesh/core/crypto/pqsig"
)

// State is a Vertex's position in the QR-Avalanche lifecycle. Only the
// consensus engine (C3) mutates it, via Store.SetState.
type State uint8

const (
	StatePending State = iota
	StateAccepted
	StateFinalized
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateAccepted:
		return "Accepted"
	case StateFinalized:
		return "Finalized"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// wireVersion is the current Vertex wire-format version.
const wireVersion uint8 = 1

// Vertex is the immutable unit of the DAG. Id, Height, and the byte layout
// of everything but State/Confidence are fixed at construction; State and
// Confidence are the only fields the consensus engine ever mutates, and it
// does so through the Store, never on a Vertex value directly.
type Vertex struct {
	ID         ids.ID
	Parents    []ids.ID
	Payload    []byte
	AuthorPK   []byte // post-quantum signature public key, see crypto/pqsig
	Signature  []byte // pqsig signature over Encode(v) sans the signature field
	Timestamp  uint64 // monotone-per-author logical clock; not trusted across authors
	Height     uint64 // 1 + max(parent.height); 0 for genesis
	State      State
	Confidence uint64
}

// signingBody returns version ‖ author_pk_len ‖ author_pk ‖ parent_count ‖
// parent_ids ‖ timestamp ‖ payload_len ‖ payload — the bytes the author
// signs, and the bytes hashed to produce the vertex id. The length-prefixed
// author_pk field is the one departure from spec.md §6's literal
// `author_pk` (fixed-size) wording: it lets this codec remain correct if a
// future build changes the signature scheme's public-key size without
// changing the wire version.
func signingBody(parents []ids.ID, authorPK, payload []byte, timestamp uint64) ([]byte, error) {
	if len(parents) > 255 {
		return nil, fmt.Errorf("dag: too many parents to encode: %d", len(parents))
	}
	if len(authorPK) > 0xFFFF {
		return nil, fmt.Errorf("dag: author public key too large to encode: %d", len(authorPK))
	}
	if len(payload) > 0xFFFFFFFF {
		return nil, fmt.Errorf("dag: payload too large to encode: %d", len(payload))
	}

	buf := make([]byte, 0, 1+2+len(authorPK)+1+32*len(parents)+8+4+len(payload))
	buf = append(buf, wireVersion)

	var authorLen [2]byte
	binary.LittleEndian.PutUint16(authorLen[:], uint16(len(authorPK)))
	buf = append(buf, authorLen[:]...)
	buf = append(buf, authorPK...)

	buf = append(buf, byte(len(parents)))
	for _, p := range parents {
		buf = append(buf, p[:]...)
	}

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestamp)
	buf = append(buf, ts[:]...)

	var payloadLen [4]byte
	binary.LittleEndian.PutUint32(payloadLen[:], uint32(len(payload)))
	buf = append(buf, payloadLen[:]...)
	buf = append(buf, payload...)

	return buf, nil
}

// Sign populates AuthorPK, ID, and Signature from sk, mirroring
// ledger.Payload's own Sign method. Callers set Parents, Payload, and
// Timestamp first.
func (v *Vertex) Sign(sk *pqsig.PrivateKey) error {
	v.AuthorPK = sk.PublicKey().Bytes()
	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	if err != nil {
		return err
	}
	sig, err := sk.Sign(body)
	if err != nil {
		return fmt.Errorf("dag: sign vertex: %w", err)
	}
	v.Signature = sig
	v.ID = ids.ID(fingerprint.Hash(body))
	return nil
}

// Encode returns the canonical wire encoding: signingBody ‖ signature. The
// vertex id is the hash of signingBody alone (spec.md §6: "the id is the
// hash of all fields up to but excluding the signature").
func (v *Vertex) Encode() ([]byte, error) {
	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	if err != nil {
		return nil, err
	}
	return append(body, v.Signature...), nil
}

// ComputeID returns the content-hash id for v's current fields, independent
// of whatever v.ID currently holds. Callers use this both to assign a new
// vertex's id and to verify an admitted vertex's claimed id matches its
// content.
func (v *Vertex) ComputeID() (ids.ID, error) {
	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	if err != nil {
		return ids.ID{}, err
	}
	h := fingerprint.Hash(body)
	return ids.ID(h), nil
}

// Decode parses the canonical wire encoding produced by Encode, including
// recomputing and setting v.ID. It does not verify the signature; callers
// that need an admitted vertex must also call a signature check (see
// Store.Admit).
func Decode(b []byte) (*Vertex, error) {
	if len(b) < 1+2 {
		return nil, fmt.Errorf("dag: vertex encoding too short")
	}
	version := b[0]
	if version != wireVersion {
		return nil, fmt.Errorf("dag: unsupported vertex wire version %d", version)
	}
	off := 1

	authorLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+authorLen+1 {
		return nil, fmt.Errorf("dag: vertex encoding truncated in author_pk")
	}
	authorPK := append([]byte(nil), b[off:off+authorLen]...)
	off += authorLen

	parentCount := int(b[off])
	off++
	if len(b) < off+32*parentCount+8+4 {
		return nil, fmt.Errorf("dag: vertex encoding truncated in parents")
	}
	parents := make([]ids.ID, parentCount)
	for i := 0; i < parentCount; i++ {
		copy(parents[i][:], b[off:off+32])
		off += 32
	}

	timestamp := binary.LittleEndian.Uint64(b[off:])
	off += 8

	payloadLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+payloadLen {
		return nil, fmt.Errorf("dag: vertex encoding truncated in payload")
	}
	payload := append([]byte(nil), b[off:off+payloadLen]...)
	off += payloadLen

	signature := append([]byte(nil), b[off:]...)

	v := &Vertex{
		Parents:   parents,
		Payload:   payload,
		AuthorPK:  authorPK,
		Signature: signature,
		Timestamp: timestamp,
		State:     StatePending,
	}
	id, err := v.ComputeID()
	if err != nil {
		return nil, err
	}
	v.ID = id
	return v, nil
}
