// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/crypto/pqsig"
	"github.com/shadowmesh/core/errs"
)

// AdmitResult is the outcome of Store.Admit.
type AdmitResult uint8

const (
	Admitted AdmitResult = iota
	DuplicateVertex
	RejectedVertex
)

// AdmissionHook lets C4 (ledger) and C9 (control plane) extend admission
// with a conflict-key derivation over a vertex's payload, without the DAG
// store needing to understand payload contents. Returning ("", false) means
// the vertex participates in no conflict set (e.g. Attest payloads).
type AdmissionHook func(v *Vertex) (conflictKey string, has bool)

// Store is the DAG store's public surface (spec.md §4.2). Admission is
// serialized by a single writer; reads take a shared read lock over the
// current adjacency/tip indexes.
type Store interface {
	Admit(v *Vertex) (AdmitResult, error)
	Get(id ids.ID) (*Vertex, bool)
	Has(id ids.ID) bool
	Tips() []ids.ID
	Children(id ids.ID) []ids.ID
	Ancestors(id ids.ID, depth int) []ids.ID
	Descendants(id ids.ID, depth int) []ids.ID
	ConflictSet(key string) []ids.ID
	SetState(id ids.ID, newState State) error
	Pending() []ids.ID
}

// KV is the slice of github.com/luxfi/database.Database the DAG store
// needs: a get/put/has/delete keyspace. Declaring it locally rather than
// depending on the full Database interface lets tests exercise Store with a
// small in-memory fake while production wiring passes a real
// database.Database value (which satisfies KV structurally).
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Delete(key []byte) error
}

// store is a KV-backed Store. It keeps canonical vertex bytes and state
// transitions in two append-only logs (vertex.log, state.log per spec.md
// §6) fronted by a KV keyspace, and rebuilds its adjacency/tip/conflict
// indexes from that keyspace on construction — the same replay-on-startup
// pattern as the teacher's engine/dag/state.serializer, generalized from an
// in-memory map to a durable KV backend.
type store struct {
	mu sync.RWMutex

	db     KV
	log    log.Logger
	params maxPayload

	vertices map[ids.ID]*Vertex
	children map[ids.ID][]ids.ID
	tips     map[ids.ID]struct{}
	authors  map[string]ids.ID // author_pk string -> latest vertex id
	conflict map[string][]ids.ID

	hook AdmissionHook

	genesisID ids.ID
}

// maxPayload carries the two config values the store enforces directly
// (parent count and payload size); the rest of Parameters belongs to the consensus engine and the control
// plane.
type maxPayload struct {
	KMaxParents int
	MaxPayload  int64
}

var (
	vertexKeyPrefix = []byte("v:")
	stateKeyPrefix  = []byte("s:")

	// orderIndexKey and stateLogKey hold the two append-only logs spec.md §6
	// names (vertex.log, state.log), realized as single read-modify-write
	// records in the database.Database keyspace rather than as flat files,
	// the same translation the teacher's engine/dag/state.serializer makes
	// when it fronts a KV database with an id-keyed vertex store.
	orderIndexKey = []byte("idx:order")
	stateLogKey   = []byte("idx:state-log")
)

func vertexKey(id ids.ID) []byte {
	return append(append([]byte(nil), vertexKeyPrefix...), id[:]...)
}

func stateKey(id ids.ID) []byte {
	return append(append([]byte(nil), stateKeyPrefix...), id[:]...)
}

// appendOrderIndex records id as the next entry in the vertex admission
// order log, so replay can enumerate every admitted vertex without relying
// on key iteration support.
func (s *store) appendOrderIndex(id ids.ID) error {
	existing, err := s.db.Get(orderIndexKey)
	if err != nil && !isNotFound(err) {
		return err
	}
	return s.db.Put(orderIndexKey, append(existing, id[:]...))
}

// appendStateLog records one (vertex_id, new_state) transition, including
// the implicit Pending transition every admitted vertex starts in.
func (s *store) appendStateLog(id ids.ID, state State) error {
	existing, err := s.db.Get(stateLogKey)
	if err != nil && !isNotFound(err) {
		return err
	}
	return s.db.Put(stateLogKey, append(existing, append(id[:], byte(state))...))
}

// isNotFound reports whether err is this database's not-found sentinel.
// database.Database implementations conventionally return database.ErrNotFound
// from Get on a missing key; treated as "no prior records" during replay and
// the first append.
func isNotFound(err error) bool {
	return err != nil && err == database.ErrNotFound
}

// NewStore constructs a Store over db, replaying any previously admitted
// vertices and state transitions to rebuild its in-memory indexes. genesisID
// is the one vertex id allowed zero parents.
func NewStore(db KV, logger log.Logger, kMaxParents int, maxPayloadBytes int64, genesisID ids.ID, hook AdmissionHook) (Store, error) {
	s := &store{
		db:        db,
		log:       logger,
		params:    maxPayload{KMaxParents: kMaxParents, MaxPayload: maxPayloadBytes},
		vertices:  make(map[ids.ID]*Vertex),
		children:  make(map[ids.ID][]ids.ID),
		tips:      make(map[ids.ID]struct{}),
		authors:   make(map[string]ids.ID),
		conflict:  make(map[string][]ids.ID),
		hook:      hook,
		genesisID: genesisID,
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

// replay rebuilds every in-memory index from the durable keyspace. It is the
// crash-recovery path spec.md §4.2 requires: "on startup, replay the log,
// rebuild indexes, recompute state by replaying finalization events." It
// first replays the order log (every vertex ever admitted, in admission
// order) and then the state log (every state transition, in the order it
// happened) on top, so the final in-memory state matches whatever was
// durably recorded even if the process crashed mid-transition.
func (s *store) replay() error {
	order, err := s.db.Get(orderIndexKey)
	if err != nil && !isNotFound(err) {
		return errs.WithStack(fmt.Errorf("%w: replay order log read failed: %v", errs.ErrIO, err))
	}
	if len(order)%32 != 0 {
		return errs.WithStack(fmt.Errorf("%w: order log length %d not a multiple of 32", errs.ErrCorrupted, len(order)))
	}
	for off := 0; off < len(order); off += 32 {
		var id ids.ID
		copy(id[:], order[off:off+32])
		raw, err := s.db.Get(vertexKey(id))
		if err != nil {
			return errs.WithStack(fmt.Errorf("%w: replay missing vertex %s: %v", errs.ErrCorrupted, id, err))
		}
		v, err := Decode(raw)
		if err != nil {
			return errs.WithStack(fmt.Errorf("%w: replay decode failed: %v", errs.ErrCorrupted, err))
		}
		s.indexVertex(v)
	}

	stateLog, err := s.db.Get(stateLogKey)
	if err != nil && !isNotFound(err) {
		return errs.WithStack(fmt.Errorf("%w: replay state log read failed: %v", errs.ErrIO, err))
	}
	if len(stateLog)%33 != 0 {
		return errs.WithStack(fmt.Errorf("%w: state log length %d not a multiple of 33", errs.ErrCorrupted, len(stateLog)))
	}
	for off := 0; off < len(stateLog); off += 33 {
		var id ids.ID
		copy(id[:], stateLog[off:off+32])
		if v, ok := s.vertices[id]; ok {
			v.State = State(stateLog[off+32])
		}
	}
	return nil
}

// indexVertex folds v into the adjacency, tip, author, and conflict indexes.
// Callers must hold s.mu for writing, or call it only during single-threaded
// replay. The order log replays vertices in admission order, so every parent
// is already indexed by the time its child is reached here; indexVertex
// recomputes v.Height from those parents the same way Admit does, since
// Decode leaves Height at its zero value and the durable wire encoding never
// carries it.
func (s *store) indexVertex(v *Vertex) {
	height := uint64(0)
	for _, p := range v.Parents {
		if parent, ok := s.vertices[p]; ok {
			if h := parent.Height + 1; h > height {
				height = h
			}
		}
	}
	v.Height = height

	s.vertices[v.ID] = v
	s.tips[v.ID] = struct{}{}
	for _, p := range v.Parents {
		s.children[p] = append(s.children[p], v.ID)
		delete(s.tips, p)
	}
	s.authors[string(v.AuthorPK)] = v.ID
	if s.hook != nil {
		if key, ok := s.hook(v); ok {
			s.conflict[key] = append(s.conflict[key], v.ID)
		}
	}
}

// Admit checks v's admission preconditions in the order spec.md §4.2
// specifies, persists it durably on success, and indexes it.
func (s *store) Admit(v *Vertex) (AdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vertices[v.ID]; exists {
		return DuplicateVertex, nil
	}

	// (1) signature verifies.
	pub, err := pqsig.PublicKeyFromBytes(v.AuthorPK)
	if err != nil {
		return RejectedVertex, fmt.Errorf("%w: malformed author key: %v", errs.ErrInvalidSignature, err)
	}
	body, err := signingBody(v.Parents, v.AuthorPK, v.Payload, v.Timestamp)
	if err != nil {
		return RejectedVertex, fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	}
	if !pub.Verify(body, v.Signature) {
		return RejectedVertex, errs.ErrInvalidSignature
	}

	// (2) all parents exist and are not Rejected.
	for _, p := range v.Parents {
		parent, ok := s.vertices[p]
		if !ok {
			return RejectedVertex, fmt.Errorf("%w: %s", errs.ErrUnknownParent, p)
		}
		if parent.State == StateRejected {
			return RejectedVertex, fmt.Errorf("%w: parent %s rejected", errs.ErrUnknownParent, p)
		}
	}

	// (3) parent count in [1, KMaxParents], or 0 iff declared genesis.
	isGenesis := v.ID == s.genesisID && len(s.vertices) == 0
	switch {
	case len(v.Parents) == 0 && !isGenesis:
		return RejectedVertex, errs.ErrParentCountOutOfRange
	case len(v.Parents) > s.params.KMaxParents:
		return RejectedVertex, errs.ErrParentCountOutOfRange
	}

	// (4) no cycle: v's id cannot appear in its own ancestor closure.
	if s.wouldCycle(v) {
		return RejectedVertex, errs.ErrCycle
	}

	// (5) payload size <= MaxPayload.
	if int64(len(v.Payload)) > s.params.MaxPayload {
		return RejectedVertex, errs.ErrPayloadTooLarge
	}

	height := uint64(0)
	for _, p := range v.Parents {
		if h := s.vertices[p].Height + 1; h > height {
			height = h
		}
	}
	v.Height = height
	v.State = StatePending

	encoded, err := v.Encode()
	if err != nil {
		return RejectedVertex, fmt.Errorf("%w: %v", errs.ErrCorrupted, err)
	}
	// Durability barrier: vertex bytes, its entry in the order log, and its
	// initial Pending state transition all land before Admit returns, per
	// spec.md §4.2's "durability barrier required after each batch of
	// admissions and after each state transition event."
	if err := s.db.Put(vertexKey(v.ID), encoded); err != nil {
		return RejectedVertex, errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}
	if err := s.db.Put(stateKey(v.ID), []byte{byte(StatePending)}); err != nil {
		return RejectedVertex, errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}
	if err := s.appendOrderIndex(v.ID); err != nil {
		return RejectedVertex, errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}
	if err := s.appendStateLog(v.ID, StatePending); err != nil {
		return RejectedVertex, errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}

	s.indexVertex(v)
	s.log.Debug("admitted vertex",
		log.Stringer("id", v.ID),
		log.Uint64("height", v.Height),
		log.Int("parents", len(v.Parents)),
	)
	return Admitted, nil
}

// wouldCycle reports whether v (not yet indexed) would introduce a cycle —
// i.e. whether v.ID is reachable from v via its declared parents. Since v is
// unindexed this reduces to: does any parent's ancestor closure already
// contain an id equal to what v.ID will be once computed. A fresh vertex id
// is the hash of unique content, so this only fires on a pathological
// submission that reuses another vertex's id with different parents — the
// real-world guard is the transitive-self-reference check below.
func (s *store) wouldCycle(v *Vertex) bool {
	seen := map[ids.ID]struct{}{v.ID: {}}
	queue := append([]ids.ID(nil), v.Parents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == v.ID {
			return true
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if parent, ok := s.vertices[id]; ok {
			queue = append(queue, parent.Parents...)
		}
	}
	return false
}

func (s *store) Get(id ids.ID) (*Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vertices[id]
	return v, ok
}

func (s *store) Has(id ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vertices[id]
	return ok
}

func (s *store) Tips() []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, 0, len(s.tips))
	for id := range s.tips {
		out = append(out, id)
	}
	return out
}

func (s *store) Children(id ids.ID) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kids := s.children[id]
	out := make([]ids.ID, len(kids))
	copy(out, kids)
	return out
}

// Ancestors returns id's ancestor set via breadth-first parent traversal,
// stopping after depth levels (depth<=0 means unbounded).
func (s *store) Ancestors(id ids.ID, depth int) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walk(id, depth, func(v *Vertex) []ids.ID { return v.Parents })
}

// Descendants returns id's descendant set via breadth-first child traversal.
func (s *store) Descendants(id ids.ID, depth int) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walk(id, depth, func(v *Vertex) []ids.ID {
		return s.children[v.ID]
	})
}

func (s *store) walk(start ids.ID, depth int, next func(v *Vertex) []ids.ID) []ids.ID {
	visited := map[ids.ID]struct{}{start: {}}
	frontier := []ids.ID{start}
	var out []ids.ID

	for level := 0; len(frontier) > 0 && (depth <= 0 || level < depth); level++ {
		var nextFrontier []ids.ID
		for _, id := range frontier {
			v, ok := s.vertices[id]
			if !ok {
				continue
			}
			for _, n := range next(v) {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				out = append(out, n)
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}
	return out
}

// Pending returns every vertex id not yet in a terminal state
// (Finalized/Rejected) — a restarted node's replayed-but-still-in-flight
// vertices, which a caller's polling frontier must pick back up since they
// were never durably recorded as done.
func (s *store) Pending() []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.ID
	for id, v := range s.vertices {
		if v.State != StateFinalized && v.State != StateRejected {
			out = append(out, id)
		}
	}
	return out
}

// ConflictSet returns the set of vertex ids sharing conflict key, as derived
// by the AdmissionHook at admission time.
func (s *store) ConflictSet(key string) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.conflict[key]
	out := make([]ids.ID, len(set))
	copy(out, set)
	return out
}

// legalTransitions enumerates the QR-Avalanche state machine spec.md §3
// describes: Pending -> {Accepted, Rejected}; Accepted -> {Finalized,
// Rejected}; Finalized and Rejected are terminal.
var legalTransitions = map[State]map[State]bool{
	StatePending:  {StateAccepted: true, StateRejected: true},
	StateAccepted: {StateFinalized: true, StateRejected: true},
}

// SetState is part of the writer path; only the consensus engine calls it.
// An illegal transition is a consensus-engine bug, so it panics rather than
// returning an error the engine might silently ignore.
func (s *store) SetState(id ids.ID, newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vertices[id]
	if !ok {
		return fmt.Errorf("dag: set_state on unknown vertex %s", id)
	}
	if v.State == newState {
		return nil
	}
	allowed, known := legalTransitions[v.State]
	if !known || !allowed[newState] {
		panic(fmt.Sprintf("dag: illegal state transition %s -> %s for vertex %s", v.State, newState, id))
	}

	if err := s.db.Put(stateKey(id), []byte{byte(newState)}); err != nil {
		return errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}
	if err := s.appendStateLog(id, newState); err != nil {
		return errs.WithStack(fmt.Errorf("%w: %v", errs.ErrIO, err))
	}
	v.State = newState

	if newState == StateRejected {
		s.rejectDescendants(id)
	}
	s.log.Debug("vertex state transition",
		log.Stringer("id", id),
		log.Stringer("state", newState),
	)
	return nil
}

// rejectDescendants propagates rejection to every reachable descendant, per
// spec.md §3's "Rejected ⇒ no descendant can be Accepted (conflict
// propagation)" invariant. Already-Finalized descendants are left alone:
// finalization is irreversible even under later-discovered conflicts,
// matching the Ledger's Applied-Failed handling for the same case.
//
// Callers must already hold s.mu for writing; this walks the unlocked index
// directly (via s.walk, not s.Descendants) since SetState holds that lock.
func (s *store) rejectDescendants(id ids.ID) {
	for _, childID := range s.walk(id, 0, func(v *Vertex) []ids.ID { return s.children[v.ID] }) {
		child := s.vertices[childID]
		if child == nil || child.State == StateFinalized || child.State == StateRejected {
			continue
		}
		child.State = StateRejected
		_ = s.db.Put(stateKey(childID), []byte{byte(StateRejected)})
		_ = s.appendStateLog(childID, StateRejected)
	}
}
