// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resolver

import (
	"hash/fnv"
	"sync"
)

// shardedMap is a string-keyed map sharded to reduce lock contention under
// concurrent register/resolve traffic, the same sharding-by-key-hash shape
// this repo's FPC engine uses for its own concurrent record cache.
type shardedMap struct {
	shards []*mapShard
	n      uint32
}

type mapShard struct {
	mu    sync.RWMutex
	items map[string]*Record
}

func newShardedMap(shards int) *shardedMap {
	if shards <= 0 {
		shards = 16
	}
	sm := &shardedMap{shards: make([]*mapShard, shards), n: uint32(shards)}
	for i := range sm.shards {
		sm.shards[i] = &mapShard{items: make(map[string]*Record)}
	}
	return sm
}

func (sm *shardedMap) shardFor(key string) *mapShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return sm.shards[h.Sum32()%sm.n]
}

func (sm *shardedMap) get(key string) (*Record, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[key]
	return r, ok
}

func (sm *shardedMap) set(key string, r *Record) {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = r
}

func (sm *shardedMap) delete(key string) {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// deleteIf removes every entry across all shards for which pred returns
// true, returning the count removed. Used by EvictExpired.
func (sm *shardedMap) deleteIf(pred func(*Record) bool) int {
	removed := 0
	for _, s := range sm.shards {
		s.mu.Lock()
		for k, r := range s.items {
			if pred(r) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
