// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowmesh/core/crypto/pq"
)

func TestMintRegistryVerifierAcceptsValidCertificate(t *testing.T) {
	cosigners, group, err := pq.GenerateCosigners(2, 3, nil)
	require.NoError(t, err)

	prfKey := make([]byte, 32)
	message := "mint:account-1:1000"
	sig, err := pq.Certify(1, message, prfKey, []int{0, 1}, cosigners)
	require.NoError(t, err)

	registry := NewMintRegistry(group)
	certificate := registry.Register(sig)
	require.Len(t, certificate, 8)

	verifier := registry.Verifier()
	require.True(t, verifier(message, certificate))
	require.False(t, verifier("mint:account-1:9999", certificate))
}

func TestMintRegistryVerifierRejectsUnknownCertificate(t *testing.T) {
	_, group, err := pq.GenerateCosigners(2, 3, nil)
	require.NoError(t, err)

	registry := NewMintRegistry(group)
	verifier := registry.Verifier()
	require.False(t, verifier("anything", []byte{0, 0, 0, 0, 0, 0, 0, 1}))
}

func TestMintRegistryVerifierRejectsMalformedCertificate(t *testing.T) {
	_, group, err := pq.GenerateCosigners(2, 3, nil)
	require.NoError(t, err)

	registry := NewMintRegistry(group)
	verifier := registry.Verifier()
	require.False(t, verifier("anything", []byte{1, 2, 3}))
}

func TestMintRegistryForget(t *testing.T) {
	cosigners, group, err := pq.GenerateCosigners(2, 3, nil)
	require.NoError(t, err)

	message := "mint:account-2:10"
	sig, err := pq.Certify(2, message, make([]byte, 32), []int{0, 2}, cosigners)
	require.NoError(t, err)

	registry := NewMintRegistry(group)
	certificate := registry.Register(sig)

	require.NoError(t, registry.Forget(certificate))
	require.False(t, registry.Verifier()(message, certificate))

	require.Error(t, registry.Forget([]byte{1, 2, 3}))
}
