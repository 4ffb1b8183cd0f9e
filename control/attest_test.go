// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/resolver"
)

func TestAttestIndexLookupByNameAndFingerprint(t *testing.T) {
	idx := newAttestIndex()
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	record, err := resolver.NewRecord(sk, "bob", []byte("endpoint"), time.Now().Unix()+3600)
	require.NoError(t, err)

	idx.index(record)

	got, ok, err := idx.LookupByName(context.Background(), "bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Endpoint, got.Endpoint)

	got, ok, err = idx.LookupByFingerprint(context.Background(), record.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Endpoint, got.Endpoint)
}

func TestAttestIndexShadowRecordOnlyIndexedByFingerprint(t *testing.T) {
	idx := newAttestIndex()
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	record, err := resolver.NewRecord(sk, "", []byte("endpoint"), time.Now().Unix()+60)
	require.NoError(t, err)

	idx.index(record)

	_, ok, err := idx.LookupByFingerprint(context.Background(), record.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = idx.LookupByName(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAttestIndexLookupMissReturnsNotOk(t *testing.T) {
	idx := newAttestIndex()
	_, ok, err := idx.LookupByName(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, ok)
}
