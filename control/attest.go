// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"context"
	"sync"

	"github.com/shadowmesh/core/resolver"
)

// attestIndex implements resolver.FallbackSource by indexing the dark
// resolver records (resolver.Record, wire-encoded in a ledger.Payload's
// Extra field) carried by every finalized KindAttest vertex. Plane.
// processFinalized populates it as vertices finalize, the "replaying
// finalized Attest payloads" fallback spec.md §4.6 describes — here
// realized as an incremental index built off the same finalization stream
// that drives ledger.Apply, rather than a re-scan of the DAG store (which
// exposes no full-enumeration operation; see dag.Store).
type attestIndex struct {
	mu     sync.RWMutex
	byName map[string]*resolver.Record
	byFP   map[[32]byte]*resolver.Record
}

func newAttestIndex() *attestIndex {
	return &attestIndex{
		byName: make(map[string]*resolver.Record),
		byFP:   make(map[[32]byte]*resolver.Record),
	}
}

func (a *attestIndex) index(rec *resolver.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.Name != "" {
		a.byName[rec.Name] = rec
	}
	a.byFP[rec.Fingerprint] = rec
}

func (a *attestIndex) LookupByName(_ context.Context, name string) (*resolver.Record, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byName[name]
	return rec, ok, nil
}

func (a *attestIndex) LookupByFingerprint(_ context.Context, fp [32]byte) (*resolver.Record, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byFP[fp]
	return rec, ok, nil
}
