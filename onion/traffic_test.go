// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package onion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterStaysWithinBound(t *testing.T) {
	max := 50 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Jitter(max)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
}

func TestJitterWithZeroMaxIsZero(t *testing.T) {
	require.Equal(t, time.Duration(0), Jitter(0))
	require.Equal(t, time.Duration(0), Jitter(-time.Second))
}

func TestCoverDecisionRespectsRateExtremes(t *testing.T) {
	require.False(t, CoverDecision(0))
	require.False(t, CoverDecision(-0.1))

	hits := 0
	for i := 0; i < 200; i++ {
		if CoverDecision(1.0) {
			hits++
		}
	}
	require.Equal(t, 200, hits)
}

func TestCoverDecisionApproximatesRateOverManyTrials(t *testing.T) {
	const trials = 4000
	hits := 0
	for i := 0; i < trials; i++ {
		if CoverDecision(0.10) {
			hits++
		}
	}
	rate := float64(hits) / float64(trials)
	require.InDelta(t, 0.10, rate, 0.04)
}

func TestBatcherFlushesOnSize(t *testing.T) {
	b := NewBatcher(3, time.Hour)
	b.Add([]byte("ct1"), []byte("f1"))
	b.Add([]byte("ct2"), []byte("f2"))
	b.Add([]byte("ct3"), []byte("f3"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := b.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 3)
}

func TestBatcherFlushesOnWait(t *testing.T) {
	b := NewBatcher(10, 20*time.Millisecond)
	b.Add([]byte("ct1"), []byte("f1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := b.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestBatcherReordersWithinBatch(t *testing.T) {
	b := NewBatcher(5, time.Hour)
	b.permuter = func(n int) []int {
		order := make([]int, n)
		for i := range order {
			order[i] = n - 1 - i
		}
		return order
	}
	for i := 0; i < 5; i++ {
		b.Add([]byte{byte(i)}, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := b.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 5)
	for i, m := range batch {
		require.Equal(t, byte(4-i), m.kemCiphertext[0])
	}
}

func TestBatcherWaitRespectsContextCancellation(t *testing.T) {
	b := NewBatcher(10, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Wait(ctx)
	require.Error(t, err)
}

func TestRandomPermutationIsAPermutation(t *testing.T) {
	order := randomPermutation(10)
	require.Len(t, order, 10)
	seen := make(map[int]bool)
	for _, v := range order {
		require.False(t, seen[v])
		seen[v] = true
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 10)
	}
}
