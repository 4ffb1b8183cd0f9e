// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/shadowmesh/core/config"
	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/dag"
	"github.com/shadowmesh/core/internal/xlog"
	"github.com/shadowmesh/core/peer"
)

// testKV is a minimal KV fake, local to this package for the same reason
// ledger's and consensus's own are: the dag/peer packages' memKV helpers are
// unexported.
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

// fakeRequester always votes for the first candidate it's asked about,
// simulating a unanimous, always-reachable committee so a single sweep
// pushes every conflict-free vertex through Accept and a second sweep
// finalizes it.
type fakeRequester struct{}

func (fakeRequester) RequestPreference(_ context.Context, _ ids.NodeID, candidates []ids.ID) (ids.ID, error) {
	return candidates[0], nil
}

// testParameters returns a Parameters set tuned so one consensus sweep
// suffices to Accept a conflict-free vertex and a second to Finalize it: a
// single-peer committee, Beta=BetaFinalize=1.
func testParameters() config.Parameters {
	p := config.Local()
	p.K = 1
	p.AlphaPreference = 1
	p.Beta = 1
	p.BetaFinalize = 1
	p.MaxRounds = 5
	p.ReputationMin = -100
	return p
}

// connectPeer brings id to peer.StatusConnected, the state Manager.Sample
// requires: Connect alone only reaches StatusConnecting.
func connectPeer(t *testing.T, mgr peer.Manager, id ids.NodeID) {
	t.Helper()
	require.NoError(t, mgr.Connect(id))
	require.NoError(t, mgr.RecordSuccess(id, time.Millisecond))
}

// buildGenesis constructs and signs a zero-parent vertex for use as
// Deps.Genesis/Deps.GenesisID.
func buildGenesis(t *testing.T, sk *pqsig.PrivateKey) *dag.Vertex {
	t.Helper()
	v := &dag.Vertex{Payload: []byte("genesis"), Timestamp: 1}
	require.NoError(t, v.Sign(sk))
	return v
}

// newTestPlane wires a Plane with a single always-connected peer (so the
// consensus engine's sampler always has a committee to draw from) and an
// admitted genesis vertex. It returns the Plane and the node's author key.
func newTestPlane(t *testing.T) (*Plane, *pqsig.PrivateKey) {
	t.Helper()

	authorKey, err := pqsig.Keypair()
	require.NoError(t, err)
	genesis := buildGenesis(t, authorKey)

	p, err := New(testParameters(), Deps{
		VertexKV:  newTestKV(),
		PeerKV:    newTestKV(),
		Requester: fakeRequester{},
		Logger:    xlog.NoOp(),
		AuthorKey: authorKey,
		GenesisID: genesis.ID,
		Genesis:   genesis,
	})
	require.NoError(t, err)

	committee := ids.GenerateTestNodeID()
	connectPeer(t, p.Peers(), committee)

	return p, authorKey
}

// newTestPlaneWithRegisterer is newTestPlane with Prometheus instrumentation
// turned on against reg.
func newTestPlaneWithRegisterer(t *testing.T, reg prometheus.Registerer) (*Plane, *pqsig.PrivateKey) {
	t.Helper()

	authorKey, err := pqsig.Keypair()
	require.NoError(t, err)
	genesis := buildGenesis(t, authorKey)

	p, err := New(testParameters(), Deps{
		VertexKV:   newTestKV(),
		PeerKV:     newTestKV(),
		Requester:  fakeRequester{},
		Logger:     xlog.NoOp(),
		AuthorKey:  authorKey,
		GenesisID:  genesis.ID,
		Genesis:    genesis,
		Registerer: reg,
	})
	require.NoError(t, err)

	committee := ids.GenerateTestNodeID()
	connectPeer(t, p.Peers(), committee)

	return p, authorKey
}

// finalize drives sweep twice: once to Accept, once to Finalize, matching
// testParameters' Beta=BetaFinalize=1.
func finalize(t *testing.T, p *Plane) {
	t.Helper()
	require.NoError(t, p.sweep(context.Background()))
	require.NoError(t, p.sweep(context.Background()))
}
