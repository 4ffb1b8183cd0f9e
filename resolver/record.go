// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package resolver implements the dark-address resolver (C6): a unified
// DarkRecord/ShadowAddress type, registration and lookup with fingerprint
// re-verification on every resolve, and the local sharded cache that falls
// back to ledger-derived state on a miss.
package resolver

import (
	"encoding/binary"
	"fmt"

	"github.com/shadowmesh/core/crypto/fingerprint"
	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/errs"
)

// Record is the unified DarkRecord/ShadowAddress type: a DarkRecord has a
// non-empty Name and keeps the expiry its owner signed; a ShadowAddress is
// the same struct with Name empty, addressed only by Fingerprint, and given a
// much shorter default TTL by RegisterShadow. The resolver itself treats both
// uniformly once registered — see the name index vs. fingerprint-only index
// split in the resolver type.
type Record struct {
	Name        string
	Endpoint    []byte
	Fingerprint [fingerprint.Size]byte
	OwnerPK     []byte
	Expiry      int64 // unix seconds
	Signature   []byte
}

// signingBody is what OwnerPK signs: name ‖ endpoint ‖ expiry, per spec.md
// §4.1's DarkRecord.signature definition.
func signingBody(name string, endpoint []byte, expiry int64) []byte {
	buf := make([]byte, 0, 2+len(name)+2+len(endpoint)+8)
	var nameLen [2]byte
	binary.LittleEndian.PutUint16(nameLen[:], uint16(len(name)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, name...)

	var endpointLen [2]byte
	binary.LittleEndian.PutUint16(endpointLen[:], uint16(len(endpoint)))
	buf = append(buf, endpointLen[:]...)
	buf = append(buf, endpoint...)

	var expiryBuf [8]byte
	binary.LittleEndian.PutUint64(expiryBuf[:], uint64(expiry))
	buf = append(buf, expiryBuf[:]...)
	return buf
}

// NewRecord builds and signs a Record. name may be empty to build a shadow
// address; the fingerprint is always derived, never trusted from a caller.
func NewRecord(sk *pqsig.PrivateKey, name string, endpoint []byte, expiry int64) (*Record, error) {
	ownerPK := sk.PublicKey().Bytes()
	fp := fingerprint.DarkFingerprint(endpoint, ownerPK)
	sig, err := sk.Sign(signingBody(name, endpoint, expiry))
	if err != nil {
		return nil, fmt.Errorf("resolver: sign record: %w", err)
	}
	return &Record{
		Name:        name,
		Endpoint:    endpoint,
		Fingerprint: fp,
		OwnerPK:     ownerPK,
		Expiry:      expiry,
		Signature:   sig,
	}, nil
}

// IsShadow reports whether r is a ShadowAddress (no stable name).
func (r *Record) IsShadow() bool { return r.Name == "" }

// Verify checks r.Signature against r.OwnerPK and that r.Fingerprint matches
// fingerprint(endpoint ‖ owner_pk), per spec.md §4.6's register/resolve
// re-verification requirement.
func (r *Record) Verify() error {
	want := fingerprint.DarkFingerprint(r.Endpoint, r.OwnerPK)
	if !fingerprint.Equal(want, r.Fingerprint) {
		return errs.ErrFingerprintMismatch
	}
	pub, err := pqsig.PublicKeyFromBytes(r.OwnerPK)
	if err != nil {
		return fmt.Errorf("%w: malformed owner key: %v", errs.ErrInvalidSignature, err)
	}
	if !pub.Verify(signingBody(r.Name, r.Endpoint, r.Expiry), r.Signature) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// Expired reports whether r is unresolvable as of now (unix seconds).
func (r *Record) Expired(now int64) bool { return r.Expiry <= now }

// Encode returns the canonical wire encoding: name_len:u16 ‖ name ‖
// endpoint_len:u16 ‖ endpoint ‖ fingerprint[32] ‖ expiry:u64 ‖
// owner_pk_len:u16 ‖ owner_pk ‖ signature, per spec.md §6. owner_pk and
// signature are explicitly length-prefixed/trailing the same way
// ledger.Payload's codec prefixes its own variable-length fields, since the
// abstract wire listing omits the boundary between them.
func (r *Record) Encode() ([]byte, error) {
	if len(r.Name) > 0xFFFF || len(r.Endpoint) > 0xFFFF || len(r.OwnerPK) > 0xFFFF {
		return nil, fmt.Errorf("resolver: record field exceeds u16 length")
	}
	buf := make([]byte, 0, 2+len(r.Name)+2+len(r.Endpoint)+fingerprint.Size+8+2+len(r.OwnerPK)+len(r.Signature))

	var nameLen [2]byte
	binary.LittleEndian.PutUint16(nameLen[:], uint16(len(r.Name)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, r.Name...)

	var endpointLen [2]byte
	binary.LittleEndian.PutUint16(endpointLen[:], uint16(len(r.Endpoint)))
	buf = append(buf, endpointLen[:]...)
	buf = append(buf, r.Endpoint...)

	buf = append(buf, r.Fingerprint[:]...)

	var expiryBuf [8]byte
	binary.LittleEndian.PutUint64(expiryBuf[:], uint64(r.Expiry))
	buf = append(buf, expiryBuf[:]...)

	var ownerLen [2]byte
	binary.LittleEndian.PutUint16(ownerLen[:], uint16(len(r.OwnerPK)))
	buf = append(buf, ownerLen[:]...)
	buf = append(buf, r.OwnerPK...)

	buf = append(buf, r.Signature...)
	return buf, nil
}

// DecodeRecord is the inverse of Encode.
func DecodeRecord(b []byte) (*Record, error) {
	off := 0
	if len(b) < 2 {
		return nil, fmt.Errorf("resolver: record truncated in name length")
	}
	nameLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+nameLen+2 {
		return nil, fmt.Errorf("resolver: record truncated in name")
	}
	name := string(b[off : off+nameLen])
	off += nameLen

	endpointLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+endpointLen+fingerprint.Size+8+2 {
		return nil, fmt.Errorf("resolver: record truncated in endpoint")
	}
	endpoint := append([]byte(nil), b[off:off+endpointLen]...)
	off += endpointLen

	var fp [fingerprint.Size]byte
	copy(fp[:], b[off:off+fingerprint.Size])
	off += fingerprint.Size

	expiry := int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	ownerLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+ownerLen {
		return nil, fmt.Errorf("resolver: record truncated in owner key")
	}
	ownerPK := append([]byte(nil), b[off:off+ownerLen]...)
	off += ownerLen

	signature := append([]byte(nil), b[off:]...)

	return &Record{
		Name:        name,
		Endpoint:    endpoint,
		Fingerprint: fp,
		OwnerPK:     ownerPK,
		Expiry:      expiry,
		Signature:   signature,
	}, nil
}
