// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the resource-voucher ledger (C4): the
// conservation-preserving account model, its four payload kinds, and the
// deterministic applier that consumes the consensus engine's finalization
// stream. Balances use github.com/holiman/uint256 rather than a hand-rolled
// 128-bit pair — the ecosystem's standard fixed-width integer for exactly
// this kind of conservation-critical arithmetic — even though accounts are
// logically bounded to u128 per spec.md §4.4 (enforced by Payload.ValidateStatic's
// explicit BitLen check, not by the storage width).
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"

	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/errs"
)

// Kind identifies a ledger payload's operation, per spec.md §4.4.
type Kind uint8

const (
	KindTransfer Kind = iota
	KindMint
	KindBurn
	KindAttest
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "Transfer"
	case KindMint:
		return "Mint"
	case KindBurn:
		return "Burn"
	case KindAttest:
		return "Attest"
	default:
		return "Unknown"
	}
}

// Payload is the decoded content of a dag.Vertex whose Payload encodes a
// ledger operation. It carries its own signature in addition to (and
// independent of) the vertex-level author signature, per spec.md §4.4: "Each
// is signed by the acting from/issuer key; that signature is in addition to
// the vertex-level signature."
//
// Extra holds the kind-specific opaque field: the Mint policy proof for
// KindMint, the dark_record bytes (owned and interpreted by package
// resolver) for KindAttest, and is empty for Transfer/Burn.
type Payload struct {
	Kind      Kind
	From      ids.ID // spender (Transfer/Burn) or issuer (Mint, informational only)
	To        ids.ID // recipient (Transfer/Mint); zero for Burn/Attest
	Amount    *uint256.Int
	Nonce     uint64
	Extra     []byte
	SignerPK  []byte
	Signature []byte
}

// signingBody returns the bytes the acting key signs: everything in Payload
// but the signature itself, in a fixed field order mirroring dag.Vertex's
// own length-prefixed wire layout.
func signingBody(kind Kind, from, to ids.ID, amount *uint256.Int, nonce uint64, extra, signerPK []byte) ([]byte, error) {
	if len(extra) > 0xFFFFFFFF {
		return nil, fmt.Errorf("ledger: extra field too large to encode: %d", len(extra))
	}
	if len(signerPK) > 0xFFFF {
		return nil, fmt.Errorf("ledger: signer key too large to encode: %d", len(signerPK))
	}

	amountBytes := amount.Bytes32()

	buf := make([]byte, 0, 1+32+32+32+8+2+len(signerPK)+4+len(extra))
	buf = append(buf, byte(kind))
	buf = append(buf, from[:]...)
	buf = append(buf, to[:]...)
	buf = append(buf, amountBytes[:]...)

	var nonceBuf [8]byte
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)
	buf = append(buf, nonceBuf[:]...)

	var signerLen [2]byte
	binary.LittleEndian.PutUint16(signerLen[:], uint16(len(signerPK)))
	buf = append(buf, signerLen[:]...)
	buf = append(buf, signerPK...)

	var extraLen [4]byte
	binary.LittleEndian.PutUint32(extraLen[:], uint32(len(extra)))
	buf = append(buf, extraLen[:]...)
	buf = append(buf, extra...)

	return buf, nil
}

// Sign populates SignerPK and Signature from sk.
func (p *Payload) Sign(sk *pqsig.PrivateKey) error {
	body, err := signingBody(p.Kind, p.From, p.To, p.Amount, p.Nonce, p.Extra, sk.PublicKey().Bytes())
	if err != nil {
		return err
	}
	sig, err := sk.Sign(body)
	if err != nil {
		return fmt.Errorf("ledger: sign payload: %w", err)
	}
	p.SignerPK = sk.PublicKey().Bytes()
	p.Signature = sig
	return nil
}

// VerifySignature checks p.Signature against p.SignerPK over p's signing
// body.
func (p *Payload) VerifySignature() error {
	pub, err := pqsig.PublicKeyFromBytes(p.SignerPK)
	if err != nil {
		return fmt.Errorf("%w: malformed signer key: %v", errs.ErrInvalidSignature, err)
	}
	body, err := signingBody(p.Kind, p.From, p.To, p.Amount, p.Nonce, p.Extra, p.SignerPK)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	}
	if !pub.Verify(body, p.Signature) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// Encode returns the canonical wire encoding: signingBody ‖ signature.
func (p *Payload) Encode() ([]byte, error) {
	body, err := signingBody(p.Kind, p.From, p.To, p.Amount, p.Nonce, p.Extra, p.SignerPK)
	if err != nil {
		return nil, err
	}
	return append(body, p.Signature...), nil
}

// DecodePayload parses the bytes carried in a dag.Vertex's Payload field.
func DecodePayload(b []byte) (*Payload, error) {
	if len(b) < 1+32+32+32+8+2 {
		return nil, fmt.Errorf("ledger: payload too short")
	}
	off := 0
	kind := Kind(b[off])
	off++

	var from, to ids.ID
	copy(from[:], b[off:off+32])
	off += 32
	copy(to[:], b[off:off+32])
	off += 32

	amount := new(uint256.Int).SetBytes(b[off : off+32])
	off += 32

	nonce := binary.LittleEndian.Uint64(b[off:])
	off += 8

	signerLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+signerLen+4 {
		return nil, fmt.Errorf("ledger: payload truncated in signer key")
	}
	signerPK := append([]byte(nil), b[off:off+signerLen]...)
	off += signerLen

	extraLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+extraLen {
		return nil, fmt.Errorf("ledger: payload truncated in extra field")
	}
	extra := append([]byte(nil), b[off:off+extraLen]...)
	off += extraLen

	signature := append([]byte(nil), b[off:]...)

	return &Payload{
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		Extra:     extra,
		SignerPK:  signerPK,
		Signature: signature,
	}, nil
}

// ValidateStatic checks the submission-time preconditions spec.md §4.4
// lists, given the current account state of the relevant party (From for
// Transfer/Burn, To for Mint; Attest has no account-bound nonce check).
func (p *Payload) ValidateStatic(accountNonce uint64) error {
	if err := p.VerifySignature(); err != nil {
		return err
	}
	switch p.Kind {
	case KindTransfer, KindBurn:
		if p.Nonce != accountNonce+1 {
			return errs.ErrBadNonce
		}
		if p.Amount == nil || p.Amount.IsZero() {
			return fmt.Errorf("%w: amount must be nonzero", errs.ErrPolicyViolation)
		}
		if p.Amount.BitLen() > 128 {
			return fmt.Errorf("%w: amount exceeds u128", errs.ErrPolicyViolation)
		}
	case KindMint:
		if p.Amount == nil || p.Amount.IsZero() {
			return fmt.Errorf("%w: amount must be nonzero", errs.ErrPolicyViolation)
		}
		if p.Amount.BitLen() > 128 {
			return fmt.Errorf("%w: amount exceeds u128", errs.ErrPolicyViolation)
		}
	case KindAttest:
		// No amount/nonce semantics; resolver validates Extra's structure.
	default:
		return fmt.Errorf("%w: unknown payload kind %d", errs.ErrPolicyViolation, p.Kind)
	}
	return nil
}

// ConflictKey implements the conflict-key half of a dag.AdmissionHook:
// Transfer/Burn conflict on (from, nonce); Mint/Attest never conflict.
func (p *Payload) ConflictKey() (string, bool) {
	switch p.Kind {
	case KindTransfer, KindBurn:
		return fmt.Sprintf("%s:%d", p.From, p.Nonce), true
	default:
		return "", false
	}
}
