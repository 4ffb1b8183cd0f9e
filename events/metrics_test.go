// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewBusWithMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, err := NewBusWithMetrics(4, nil, reg)
	require.NoError(t, err)

	// Neither CounterVec has a labeled child before the first Publish, so
	// the registry gathers no family for either yet.
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)

	_, ch := b.Subscribe(Ledger)
	b.Publish(Event{Category: Ledger, Kind: "attest"})
	<-ch

	families, err = reg.Gather()
	require.NoError(t, err)
	var sawPublished bool
	for _, fam := range families {
		if fam.GetName() == "shadowmesh_events_published_total" {
			sawPublished = true
			require.Equal(t, float64(1), fam.Metric[0].Counter.GetValue())
		}
	}
	require.True(t, sawPublished)
}

func TestNewBusWithMetricsCountsDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, err := NewBusWithMetrics(1, nil, reg)
	require.NoError(t, err)

	_, ch := b.Subscribe(Peer)
	b.Publish(Event{Category: Peer, Kind: "connect"})
	b.Publish(Event{Category: Peer, Kind: "connect"})
	_ = ch

	families, err := reg.Gather()
	require.NoError(t, err)
	var sawDropped bool
	for _, fam := range families {
		if fam.GetName() == "shadowmesh_events_dropped_total" {
			sawDropped = true
			require.Equal(t, float64(1), fam.Metric[0].Counter.GetValue())
		}
	}
	require.True(t, sawDropped)
}

func TestNewBusWithMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewBusWithMetrics(4, nil, reg)
	require.NoError(t, err)

	_, err = NewBusWithMetrics(4, nil, reg)
	require.Error(t, err)
}
