// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/shadowmesh/core/crypto/pqsig"
)

func signVertex(t *testing.T, sk *pqsig.PrivateKey, parents []ids.ID, payload []byte, ts uint64) *Vertex {
	t.Helper()
	body, err := signingBody(parents, sk.PublicKey().Bytes(), payload, ts)
	require.NoError(t, err)
	sig, err := sk.Sign(body)
	require.NoError(t, err)

	v := &Vertex{
		Parents:   parents,
		Payload:   payload,
		AuthorPK:  sk.PublicKey().Bytes(),
		Signature: sig,
		Timestamp: ts,
		State:     StatePending,
	}
	id, err := v.ComputeID()
	require.NoError(t, err)
	v.ID = id
	return v
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)

	v := signVertex(t, sk, nil, []byte("genesis payload"), 1)

	encoded, err := v.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, v.ID, decoded.ID)
	require.Equal(t, v.Payload, decoded.Payload)
	require.Equal(t, v.AuthorPK, decoded.AuthorPK)
	require.Equal(t, v.Signature, decoded.Signature)
	require.Equal(t, v.Timestamp, decoded.Timestamp)

	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestComputeIDIsDeterministicAndExcludesSignature(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)

	v := signVertex(t, sk, nil, []byte("payload"), 42)
	id1, err := v.ComputeID()
	require.NoError(t, err)

	// Re-signing (fresh randomness inside ML-DSA-65) changes the signature
	// but must not change the id, since the id is the hash of the signing
	// body only.
	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	require.NoError(t, err)
	newSig, err := sk.Sign(body)
	require.NoError(t, err)
	v.Signature = newSig

	id2, err := v.ComputeID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestComputeIDChangesWithPayload(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)

	v1 := signVertex(t, sk, nil, []byte("a"), 1)
	v2 := signVertex(t, sk, nil, []byte("b"), 1)
	require.NotEqual(t, v1.ID, v2.ID)
}

func TestVertexSignMatchesManualSigningBody(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)

	v := &Vertex{Payload: []byte("payload"), Timestamp: 7}
	require.NoError(t, v.Sign(sk))

	expectID, err := v.ComputeID()
	require.NoError(t, err)
	require.Equal(t, expectID, v.ID)
	require.Equal(t, sk.PublicKey().Bytes(), v.AuthorPK)

	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	require.NoError(t, err)
	require.True(t, sk.PublicKey().Verify(body, v.Signature))
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	v := signVertex(t, sk, nil, []byte("x"), 1)
	encoded, err := v.Encode()
	require.NoError(t, err)

	encoded[0] = 0xFF
	_, err = Decode(encoded)
	require.Error(t, err)
}
