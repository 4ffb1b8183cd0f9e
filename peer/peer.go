// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peer implements the peer manager (C7): reputation tracking with
// auto-ban/cooldown, connection lifecycle, and a KV-backed store so peer
// metadata and the ban list survive a restart.
package peer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/shadowmesh/core/internal/xlog"
)

// Status is a peer's connection lifecycle state, per spec.md §4.7's Peer
// type.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusBanned:
		return "Banned"
	default:
		return "Unknown"
	}
}

// Reputation update deltas, per spec.md §4.7.
const (
	successDelta            int32 = 1
	timeoutDelta             int32 = -2
	protocolViolationDelta   int32 = -20
	minReputation            int32 = -100
	maxReputation            int32 = 100
	defaultAutoBanThreshold  int32 = -50
	defaultBanCooldown             = 24 * time.Hour
)

// ewmaAlpha weights the most recent sample against the running average for
// LatencyEWMA/SuccessRateEWMA. 0.2 gives a 5-sample time constant (about a
// 3-sample half-life), a conventional choice for network-latency smoothing.
const ewmaAlpha = 0.2

// Info is one peer's tracked state.
type Info struct {
	PeerID          ids.NodeID
	Reputation      int32
	Status          Status
	LastSeen        time.Time
	LatencyEWMAMs   float64
	SuccessRateEWMA float64
	BannedUntil     time.Time
}

func (i *Info) clampReputation() {
	if i.Reputation > maxReputation {
		i.Reputation = maxReputation
	}
	if i.Reputation < minReputation {
		i.Reputation = minReputation
	}
}

// KV is the slice of github.com/luxfi/database.Database the peer store
// needs, declared locally the same way dag.KV is so tests can use a small
// in-memory fake while production wiring passes a real database.Database
// value structurally.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Delete(key []byte) error
}

var peerKeyPrefix = []byte("p:")

func peerKey(id ids.NodeID) []byte {
	return append(append([]byte(nil), peerKeyPrefix...), id[:]...)
}

// Manager is the peer manager (C7).
type Manager interface {
	// Sample returns up to k peers with Reputation >= repMin and
	// Status == StatusConnected, in an unspecified but deterministic-per-call
	// order (lowest-reputation-first is NOT implied; callers needing
	// randomized sampling should shuffle the result themselves).
	Sample(k int, repMin int32) []ids.NodeID
	Connect(peer ids.NodeID) error
	Disconnect(peer ids.NodeID) error
	RecordSuccess(peer ids.NodeID, latency time.Duration) error
	RecordFailure(peer ids.NodeID, reason string) error
	Ban(peer ids.NodeID, reason string) error
	Unban(peer ids.NodeID) error
	Get(peer ids.NodeID) (Info, bool)
}

type manager struct {
	mu sync.RWMutex

	db    KV
	log   log.Logger
	peers map[ids.NodeID]*Info
	// persistedIndex tracks which peer ids are already recorded in the
	// durable index log, so persist doesn't append duplicates.
	persistedIndex map[ids.NodeID]bool

	autoBanThreshold int32
	banCooldown      time.Duration
	now              func() time.Time
}

// Option configures a Manager at construction.
type Option func(*manager)

// WithAutoBanThreshold overrides the default -50 auto-ban reputation
// threshold.
func WithAutoBanThreshold(threshold int32) Option {
	return func(m *manager) { m.autoBanThreshold = threshold }
}

// WithBanCooldown overrides the default 24h ban cooldown.
func WithBanCooldown(d time.Duration) Option {
	return func(m *manager) { m.banCooldown = d }
}

// WithClock overrides the manager's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

// New constructs a Manager over db, replaying any previously persisted peer
// records (including bans) so blacklists are enforced immediately on
// startup, per spec.md §4.7. logger may be nil.
func New(db KV, logger log.Logger, opts ...Option) (Manager, error) {
	if logger == nil {
		logger = xlog.NoOp()
	}
	m := &manager{
		db:               db,
		log:              logger,
		peers:            make(map[ids.NodeID]*Info),
		persistedIndex:   make(map[ids.NodeID]bool),
		autoBanThreshold: defaultAutoBanThreshold,
		banCooldown:      defaultBanCooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.replay(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *manager) replay() error {
	if m.db == nil {
		return nil
	}
	index, err := m.db.Get(peerIndexKey)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("peer: replay index read failed: %w", err)
	}
	if len(index)%20 != 0 {
		return fmt.Errorf("peer: corrupt peer index length %d", len(index))
	}
	for off := 0; off < len(index); off += 20 {
		var id ids.NodeID
		copy(id[:], index[off:off+20])
		raw, err := m.db.Get(peerKey(id))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return fmt.Errorf("peer: replay record read failed: %w", err)
		}
		info, err := decodeInfo(raw)
		if err != nil {
			return fmt.Errorf("peer: replay record decode failed: %w", err)
		}
		m.peers[id] = info
		m.persistedIndex[id] = true
	}
	return nil
}

var peerIndexKey = []byte("idx:peers")

// isNotFound reports whether err is the KV's not-found sentinel, the same
// check dag.store's replay path makes against database.Database.Get.
func isNotFound(err error) bool {
	return err != nil && err == database.ErrNotFound
}

func (m *manager) getOrCreate(id ids.NodeID) *Info {
	info, ok := m.peers[id]
	if !ok {
		info = &Info{PeerID: id, Status: StatusUnknown}
		m.peers[id] = info
	}
	return info
}

func (m *manager) persist(info *Info) error {
	if m.db == nil {
		return nil
	}
	if !m.persistedIndex[info.PeerID] {
		existing, err := m.db.Get(peerIndexKey)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err := m.db.Put(peerIndexKey, append(existing, info.PeerID[:]...)); err != nil {
			return err
		}
		m.persistedIndex[info.PeerID] = true
	}
	return m.db.Put(peerKey(info.PeerID), encodeInfo(info))
}

func (m *manager) Sample(k int, repMin int32) []ids.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	candidates := make([]ids.NodeID, 0, len(m.peers))
	for id, info := range m.peers {
		if info.Status != StatusConnected || now.Before(info.BannedUntil) {
			continue
		}
		if info.Reputation < repMin {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return compareNodeID(candidates[i], candidates[j]) < 0
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

func compareNodeID(a, b ids.NodeID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (m *manager) Connect(peer ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	if info.Status == StatusBanned && m.now().Before(info.BannedUntil) {
		return fmt.Errorf("peer: %s is banned until %s", peer, info.BannedUntil)
	}
	info.Status = StatusConnecting
	info.LastSeen = m.now()
	return m.persist(info)
}

func (m *manager) Disconnect(peer ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	if info.Status == StatusBanned {
		return nil
	}
	info.Status = StatusDisconnected
	return m.persist(info)
}

func (m *manager) RecordSuccess(peer ids.NodeID, latency time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	info.Reputation += successDelta
	info.clampReputation()
	info.Status = StatusConnected
	info.LastSeen = m.now()
	info.LatencyEWMAMs = ewma(info.LatencyEWMAMs, float64(latency.Milliseconds()))
	info.SuccessRateEWMA = ewma(info.SuccessRateEWMA, 1.0)
	return m.persist(info)
}

func (m *manager) RecordFailure(peer ids.NodeID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	delta := timeoutDelta
	if reason == "protocol_violation" {
		delta = protocolViolationDelta
	}
	info.Reputation += delta
	info.clampReputation()
	info.SuccessRateEWMA = ewma(info.SuccessRateEWMA, 0.0)

	if info.Reputation <= m.autoBanThreshold {
		m.banLocked(info, "auto-ban: reputation <= "+fmt.Sprint(m.autoBanThreshold))
	}
	return m.persist(info)
}

func (m *manager) Ban(peer ids.NodeID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	m.banLocked(info, reason)
	return m.persist(info)
}

func (m *manager) banLocked(info *Info, reason string) {
	info.Status = StatusBanned
	info.BannedUntil = m.now().Add(m.banCooldown)
	m.log.Info("peer banned", log.Stringer("peer", info.PeerID), log.String("reason", reason))
}

func (m *manager) Unban(peer ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.getOrCreate(peer)
	info.Status = StatusDisconnected
	info.BannedUntil = time.Time{}
	return m.persist(info)
}

func (m *manager) Get(peer ids.NodeID) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.peers[peer]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// ewma folds sample into running with the package's fixed smoothing factor.
func ewma(running, sample float64) float64 {
	return running + ewmaAlpha*(sample-running)
}
