// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fingerprint implements spec.md §4.1's hash and fingerprint
// primitives: a fast 32-byte cryptographic hash, and a domain-separated
// variant used to bind dark-resolver records to their owner. Both are built
// on BLAKE3 (github.com/zeebo/blake3), keyed per domain so a fingerprint
// collision in one domain (e.g. shadow addresses) says nothing about
// another (e.g. vertex ids).
package fingerprint

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"
)

// Size is the output length of Hash and Fingerprint, in bytes.
const Size = 32

// Domain tags. Each is hashed into a fixed-size key via blake3's keyed mode
// so tags of different lengths can't be confused with one another.
const (
	domainVertex   = "shadowmesh/v1/vertex"
	domainDarkAddr = "shadowmesh/v1/darkaddr"
)

// Hash returns the fast cryptographic hash of b, used for vertex ids and
// general content addressing.
func Hash(b []byte) [Size]byte {
	return keyedSum(domainVertex, b)
}

// DarkFingerprint returns fingerprint(endpoint ‖ owner_pk) as spec.md §3/§6
// define it for DarkRecord and ShadowAddress.
func DarkFingerprint(endpoint, ownerPK []byte) [Size]byte {
	buf := make([]byte, 0, len(endpoint)+len(ownerPK))
	buf = append(buf, endpoint...)
	buf = append(buf, ownerPK...)
	return keyedSum(domainDarkAddr, buf)
}

// Equal performs a constant-time comparison of two fingerprints, as spec.md
// §4.1 requires ("constant-time verify required").
func Equal(a, b [Size]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func keyedSum(domain string, b []byte) [Size]byte {
	key := blake3.Sum256([]byte(domain))
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// key is always exactly 32 bytes; NewKeyed only errors on bad key size.
		panic("fingerprint: unreachable: " + err.Error())
	}
	h.Write(b)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
