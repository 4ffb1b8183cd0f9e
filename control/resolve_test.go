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

func TestRegisterDarkNamedResolvesImmediatelyAndAfterFinalization(t *testing.T) {
	p, _ := newTestPlane(t)
	ctx := context.Background()

	ownerKey, err := pqsig.Keypair()
	require.NoError(t, err)
	record, err := resolver.NewRecord(ownerKey, "alice", []byte("onion-endpoint"), time.Now().Unix()+3600)
	require.NoError(t, err)

	vertexID, err := p.RegisterDark(ctx, record, ownerKey)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, vertexID)

	// Registered locally: resolves before the registration vertex has even
	// been finalized.
	endpoint, err := p.Resolve(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("onion-endpoint"), endpoint)

	// Drive the attest vertex through consensus and into the resolver
	// fallback index too.
	finalize(t, p)
	endpoint, err = p.Resolve(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("onion-endpoint"), endpoint)
}

func TestRegisterDarkShadowResolvesByFingerprint(t *testing.T) {
	p, _ := newTestPlane(t)
	ctx := context.Background()

	ownerKey, err := pqsig.Keypair()
	require.NoError(t, err)
	record, err := resolver.NewRecord(ownerKey, "", []byte("shadow-endpoint"), time.Now().Unix()+60)
	require.NoError(t, err)
	require.True(t, record.IsShadow())

	_, err = p.RegisterDark(ctx, record, ownerKey)
	require.NoError(t, err)

	endpoint, err := p.ResolveShadow(ctx, record.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, []byte("shadow-endpoint"), endpoint)
}

func TestResolveUnknownNameFails(t *testing.T) {
	p, _ := newTestPlane(t)
	_, err := p.Resolve(context.Background(), "nobody")
	require.Error(t, err)
}
