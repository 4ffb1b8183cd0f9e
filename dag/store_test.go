// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/internal/xlog"
)

// idList is a small variadic convenience for building []ids.ID parent/result
// sets in test bodies.
func idList(ids_ ...ids.ID) []ids.ID {
	return ids_
}

func newTestStore(t *testing.T) (Store, *pqsig.PrivateKey, *Vertex) {
	t.Helper()
	sk, err := pqsig.Keypair()
	require.NoError(t, err)

	genesis := signVertex(t, sk, nil, []byte("genesis"), 1)

	s, err := NewStore(newMemKV(), xlog.NoOp(), 8, 1<<20, genesis.ID, nil)
	require.NoError(t, err)

	res, err := s.Admit(genesis)
	require.NoError(t, err)
	require.Equal(t, Admitted, res)

	return s, sk, genesis
}

func TestAdmitGenesis(t *testing.T) {
	s, _, genesis := newTestStore(t)

	got, ok := s.Get(genesis.ID)
	require.True(t, ok)
	require.Equal(t, genesis.ID, got.ID)
	require.Equal(t, uint64(0), got.Height)
	require.ElementsMatch(t, idList(genesis.ID), s.Tips())
}

func TestAdmitChildSetsHeightAndUpdatesTips(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	child := signVertex(t, sk, idList(genesis.ID), []byte("child"), 2)
	res, err := s.Admit(child)
	require.NoError(t, err)
	require.Equal(t, Admitted, res)

	got, ok := s.Get(child.ID)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Height)

	tips := s.Tips()
	require.Len(t, tips, 1)
	require.Equal(t, child.ID, tips[0])
	require.ElementsMatch(t, idList(child.ID), s.Children(genesis.ID))
}

func TestAdmitDuplicateIsIdempotent(t *testing.T) {
	s, _, genesis := newTestStore(t)

	res, err := s.Admit(genesis)
	require.NoError(t, err)
	require.Equal(t, DuplicateVertex, res)
}

func TestAdmitRejectsUnknownParent(t *testing.T) {
	s, sk, _ := newTestStore(t)

	bogus := signVertex(t, sk, idList(ids.GenerateTestID()), []byte("orphan"), 2)
	res, err := s.Admit(bogus)
	require.Equal(t, RejectedVertex, res)
	require.ErrorIs(t, err, errs.ErrUnknownParent)
}

func TestAdmitRejectsTooManyParents(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	parents := []ids.ID{genesis.ID}
	for i := 0; i < 8; i++ {
		extra := signVertex(t, sk, idList(genesis.ID), []byte{byte(i)}, uint64(2+i))
		_, err := s.Admit(extra)
		require.NoError(t, err)
		parents = append(parents, extra.ID)
	}
	require.Len(t, parents, 9)

	v := signVertex(t, sk, parents, []byte("too many parents"), 100)
	res, err := s.Admit(v)
	require.Equal(t, RejectedVertex, res)
	require.ErrorIs(t, err, errs.ErrParentCountOutOfRange)
}

func TestAdmitRejectsOversizedPayload(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	v := signVertex(t, sk, idList(genesis.ID), make([]byte, 2<<20), 2)
	res, err := s.Admit(v)
	require.Equal(t, RejectedVertex, res)
	require.ErrorIs(t, err, errs.ErrPayloadTooLarge)
}

func TestAdmitRejectsInvalidSignature(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	v := signVertex(t, sk, idList(genesis.ID), []byte("tampered"), 2)
	v.Signature[0] ^= 0xFF
	res, err := s.Admit(v)
	require.Equal(t, RejectedVertex, res)
	require.ErrorIs(t, err, errs.ErrInvalidSignature)
}

func TestChildOfRejectedParentIsRejected(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	bad := signVertex(t, sk, idList(genesis.ID), []byte("bad"), 2)
	_, err := s.Admit(bad)
	require.NoError(t, err)
	require.NoError(t, s.SetState(bad.ID, StateRejected))

	grandchild := signVertex(t, sk, idList(bad.ID), []byte("grandchild"), 3)
	res, err := s.Admit(grandchild)
	require.Equal(t, RejectedVertex, res)
	require.ErrorIs(t, err, errs.ErrUnknownParent)
}

func TestSetStateRejectPropagatesToDescendants(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	child := signVertex(t, sk, idList(genesis.ID), []byte("child"), 2)
	_, err := s.Admit(child)
	require.NoError(t, err)

	grandchild := signVertex(t, sk, idList(child.ID), []byte("grandchild"), 3)
	_, err = s.Admit(grandchild)
	require.NoError(t, err)

	require.NoError(t, s.SetState(child.ID, StateRejected))

	gc, ok := s.Get(grandchild.ID)
	require.True(t, ok)
	require.Equal(t, StateRejected, gc.State)
}

func TestSetStatePanicsOnIllegalTransition(t *testing.T) {
	s, _, genesis := newTestStore(t)

	require.Panics(t, func() {
		_ = s.SetState(genesis.ID, StateFinalized)
	})
}

func TestAncestorsAndDescendants(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	child := signVertex(t, sk, idList(genesis.ID), []byte("child"), 2)
	_, err := s.Admit(child)
	require.NoError(t, err)

	grandchild := signVertex(t, sk, idList(child.ID), []byte("grandchild"), 3)
	_, err = s.Admit(grandchild)
	require.NoError(t, err)

	anc := s.Ancestors(grandchild.ID, 0)
	require.ElementsMatch(t, idList(child.ID, genesis.ID), anc)

	desc := s.Descendants(genesis.ID, 0)
	require.ElementsMatch(t, idList(child.ID, grandchild.ID), desc)

	oneHop := s.Descendants(genesis.ID, 1)
	require.ElementsMatch(t, idList(child.ID), oneHop)
}

func TestConflictSetFromAdmissionHook(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	genesis := signVertex(t, sk, nil, []byte("genesis"), 1)

	hook := func(v *Vertex) (string, bool) {
		if len(v.Payload) == 0 {
			return "", false
		}
		return string(v.Payload[:1]), true
	}

	s, err := NewStore(newMemKV(), xlog.NoOp(), 8, 1<<20, genesis.ID, hook)
	require.NoError(t, err)
	_, err = s.Admit(genesis)
	require.NoError(t, err)

	a := signVertex(t, sk, idList(genesis.ID), []byte("Xfirst"), 2)
	b := signVertex(t, sk, idList(genesis.ID), []byte("Xsecond"), 3)
	_, err = s.Admit(a)
	require.NoError(t, err)
	_, err = s.Admit(b)
	require.NoError(t, err)

	set := s.ConflictSet("X")
	require.ElementsMatch(t, idList(a.ID, b.ID), set)
}

func TestReplayRebuildsIndexesAfterRestart(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	genesis := signVertex(t, sk, nil, []byte("genesis"), 1)

	kv := newMemKV()
	s, err := NewStore(kv, xlog.NoOp(), 8, 1<<20, genesis.ID, nil)
	require.NoError(t, err)
	_, err = s.Admit(genesis)
	require.NoError(t, err)

	child := signVertex(t, sk, idList(genesis.ID), []byte("child"), 2)
	_, err = s.Admit(child)
	require.NoError(t, err)
	require.NoError(t, s.SetState(child.ID, StateAccepted))

	// Simulate a restart: a fresh Store over the same KV must reconstruct
	// the same state without re-admitting anything.
	restarted, err := NewStore(kv, xlog.NoOp(), 8, 1<<20, genesis.ID, nil)
	require.NoError(t, err)

	got, ok := restarted.Get(child.ID)
	require.True(t, ok)
	require.Equal(t, StateAccepted, got.State)
	require.ElementsMatch(t, restarted.Tips(), idList(child.ID))
}

func TestPendingExcludesTerminalVertices(t *testing.T) {
	s, sk, genesis := newTestStore(t)

	accepted := signVertex(t, sk, idList(genesis.ID), []byte("accepted"), 2)
	_, err := s.Admit(accepted)
	require.NoError(t, err)
	require.NoError(t, s.SetState(accepted.ID, StateAccepted))
	require.NoError(t, s.SetState(accepted.ID, StateFinalized))

	rejected := signVertex(t, sk, idList(genesis.ID), []byte("rejected"), 3)
	_, err = s.Admit(rejected)
	require.NoError(t, err)
	require.NoError(t, s.SetState(rejected.ID, StateRejected))

	require.ElementsMatch(t, idList(genesis.ID), s.Pending())
}

func TestReplayRecomputesHeight(t *testing.T) {
	sk, err := pqsig.Keypair()
	require.NoError(t, err)
	genesis := signVertex(t, sk, nil, []byte("genesis"), 1)

	kv := newMemKV()
	s, err := NewStore(kv, xlog.NoOp(), 8, 1<<20, genesis.ID, nil)
	require.NoError(t, err)
	_, err = s.Admit(genesis)
	require.NoError(t, err)

	child := signVertex(t, sk, idList(genesis.ID), []byte("child"), 2)
	_, err = s.Admit(child)
	require.NoError(t, err)

	grandchild := signVertex(t, sk, idList(child.ID), []byte("grandchild"), 3)
	_, err = s.Admit(grandchild)
	require.NoError(t, err)

	// Decode leaves Height at zero; without recomputation during replay,
	// every one of these would report Height 0 after a restart.
	restarted, err := NewStore(kv, xlog.NoOp(), 8, 1<<20, genesis.ID, nil)
	require.NoError(t, err)

	gotGenesis, ok := restarted.Get(genesis.ID)
	require.True(t, ok)
	require.Equal(t, uint64(0), gotGenesis.Height)

	gotChild, ok := restarted.Get(child.ID)
	require.True(t, ok)
	require.Equal(t, uint64(1), gotChild.Height)

	gotGrandchild, ok := restarted.Get(grandchild.ID)
	require.True(t, ok)
	require.Equal(t, uint64(2), gotGrandchild.Height)
}
