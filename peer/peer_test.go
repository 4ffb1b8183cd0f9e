// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

// testKV is a minimal peer.KV fake, local to this package for the same
// reason consensus's and ledger's are: dag.memKV is unexported.
type testKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newTestKV() *testKV { return &testKV{data: make(map[string][]byte)} }

func (m *testKV) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *testKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *testKV) Has(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *testKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func TestConnectThenRecordSuccessRaisesReputation(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)

	peer := ids.GenerateTestNodeID()
	require.NoError(t, m.Connect(peer))
	require.NoError(t, m.RecordSuccess(peer, 50*time.Millisecond))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, int32(1), info.Reputation)
	require.Equal(t, StatusConnected, info.Status)
	require.InDelta(t, 10.0, info.LatencyEWMAMs, 0.001) // 0.2 * 50ms
}

func TestRecordFailureTimeoutLowersReputation(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)

	peer := ids.GenerateTestNodeID()
	require.NoError(t, m.RecordFailure(peer, "timeout"))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, int32(-2), info.Reputation)
}

func TestRecordFailureProtocolViolationLowersReputationMore(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)

	peer := ids.GenerateTestNodeID()
	require.NoError(t, m.RecordFailure(peer, "protocol_violation"))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, int32(-20), info.Reputation)
}

func TestReputationClampsAtBounds(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)
	peer := ids.GenerateTestNodeID()

	for i := 0; i < 200; i++ {
		require.NoError(t, m.RecordSuccess(peer, time.Millisecond))
	}
	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, int32(100), info.Reputation)
}

func TestAutoBanTriggersAtThreshold(t *testing.T) {
	m, err := New(newTestKV(), nil, WithAutoBanThreshold(-6))
	require.NoError(t, err)
	peer := ids.GenerateTestNodeID()

	// One protocol violation (-20) already crosses the -6 threshold.
	require.NoError(t, m.RecordFailure(peer, "protocol_violation"))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, StatusBanned, info.Status)
	require.True(t, info.BannedUntil.After(time.Now()))
}

func TestConnectRejectsBannedPeerDuringCooldown(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)
	peer := ids.GenerateTestNodeID()

	require.NoError(t, m.Ban(peer, "test"))
	err = m.Connect(peer)
	require.Error(t, err)
}

func TestUnbanAllowsReconnect(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)
	peer := ids.GenerateTestNodeID()

	require.NoError(t, m.Ban(peer, "test"))
	require.NoError(t, m.Unban(peer))
	require.NoError(t, m.Connect(peer))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, StatusConnecting, info.Status)
}

func TestSampleFiltersByStatusAndReputation(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)

	connected := ids.GenerateTestNodeID()
	require.NoError(t, m.RecordSuccess(connected, time.Millisecond))

	// 10 timeouts (-20) then one success (+1, and sets Status=Connected)
	// lands at -19 reputation: still Connected, but below a repMin of 0,
	// and safely above the -50 auto-ban threshold so status filtering and
	// reputation filtering are tested independently.
	lowRep := ids.GenerateTestNodeID()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.RecordFailure(lowRep, "timeout"))
	}
	require.NoError(t, m.RecordSuccess(lowRep, time.Millisecond))
	lowRepInfo, ok := m.Get(lowRep)
	require.True(t, ok)
	require.Equal(t, StatusConnected, lowRepInfo.Status)
	require.Equal(t, int32(-19), lowRepInfo.Reputation)

	disconnected := ids.GenerateTestNodeID()
	require.NoError(t, m.Connect(disconnected))
	require.NoError(t, m.Disconnect(disconnected))

	sampled := m.Sample(10, 0)
	require.Contains(t, sampled, connected)
	require.NotContains(t, sampled, lowRep)
	require.NotContains(t, sampled, disconnected)
}

func TestSampleRespectsK(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordSuccess(ids.GenerateTestNodeID(), time.Millisecond))
	}

	sampled := m.Sample(2, -100)
	require.Len(t, sampled, 2)
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	kv := newTestKV()
	m, err := New(kv, nil)
	require.NoError(t, err)

	peer := ids.GenerateTestNodeID()
	require.NoError(t, m.Ban(peer, "persisted ban"))

	m2, err := New(kv, nil)
	require.NoError(t, err)

	info, ok := m2.Get(peer)
	require.True(t, ok)
	require.Equal(t, StatusBanned, info.Status)

	err = m2.Connect(peer)
	require.Error(t, err, "ban must be enforced immediately on restart")
}

func TestDisconnectOnBannedPeerIsNoop(t *testing.T) {
	m, err := New(newTestKV(), nil)
	require.NoError(t, err)
	peer := ids.GenerateTestNodeID()

	require.NoError(t, m.Ban(peer, "test"))
	require.NoError(t, m.Disconnect(peer))

	info, ok := m.Get(peer)
	require.True(t, ok)
	require.Equal(t, StatusBanned, info.Status)
}
