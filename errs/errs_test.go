// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindExtractsWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("submission rejected: %w", ErrBadNonce)
	require.Equal(t, "Ledger.BadNonce", Kind(wrapped))
}

func TestKindUnknown(t *testing.T) {
	require.Equal(t, "Unknown", Kind(fmt.Errorf("boom")))
	require.Equal(t, "", Kind(nil))
}

func TestFatalKinds(t *testing.T) {
	require.True(t, Fatal(ErrCorrupted))
	require.True(t, Fatal(fmt.Errorf("wrap: %w", ErrStateDeterminismFailure)))
	require.False(t, Fatal(ErrBadNonce))
}

func TestWithStackPreservesIs(t *testing.T) {
	wrapped := WithStack(ErrCorrupted)
	require.ErrorIs(t, wrapped, ErrCorrupted)
}
