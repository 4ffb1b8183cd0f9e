// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	b := []byte("vertex payload bytes")
	require.Equal(t, Hash(b), Hash(b))
}

func TestHashDiffersOnDifferentInput(t *testing.T) {
	require.NotEqual(t, Hash([]byte("a")), Hash([]byte("b")))
}

func TestDarkFingerprintBindsEndpointAndOwner(t *testing.T) {
	endpoint := []byte("endpoint-1")
	owner1 := []byte("owner-pk-1")
	owner2 := []byte("owner-pk-2")

	fp1 := DarkFingerprint(endpoint, owner1)
	fp2 := DarkFingerprint(endpoint, owner2)
	require.NotEqual(t, fp1, fp2)

	// Same inputs always reproduce the same fingerprint.
	require.Equal(t, fp1, DarkFingerprint(endpoint, owner1))
}

func TestDarkFingerprintDiffersFromHash(t *testing.T) {
	// The domain separation between Hash and DarkFingerprint must prevent a
	// vertex id from ever colliding with a dark-record fingerprint over the
	// same bytes.
	b := []byte("shared-bytes")
	h := Hash(b)
	fp := DarkFingerprint(b, nil)
	require.NotEqual(t, h, fp)
}

func TestEqualConstantTime(t *testing.T) {
	a := Hash([]byte("x"))
	b := Hash([]byte("x"))
	c := Hash([]byte("y"))

	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}
