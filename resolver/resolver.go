// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resolver

import (
	"bytes"
	"context"
	"fmt"

	"github.com/luxfi/log"

	"github.com/shadowmesh/core/errs"
	"github.com/shadowmesh/core/internal/xlog"
	"github.com/shadowmesh/core/pkg/go/utils/timer/mockable"
)

// defaultShadowTTLSeconds bounds how long a ShadowAddress registered with no
// explicit (or an overlong) expiry stays resolvable, per spec.md §4.6's
// "much shorter default TTL" for shadow addresses relative to named
// DarkRecords.
const defaultShadowTTLSeconds = int64(3600) // 1 hour

// FallbackSource resolves a name or fingerprint against ledger-derived state
// when the local cache misses, per spec.md §4.6: "registration vertices are
// Ledger payloads (Attest{dark_record})... a cache miss falls back to the
// derived state." C9 supplies the production implementation, replaying
// finalized Attest payloads from the ledger/DAG.
type FallbackSource interface {
	LookupByName(ctx context.Context, name string) (*Record, bool, error)
	LookupByFingerprint(ctx context.Context, fp [32]byte) (*Record, bool, error)
}

// Resolver is the dark-address resolver (C6).
type Resolver interface {
	// Register verifies record and stores it under both its name and
	// fingerprint. Fails with errs.ErrNameTaken if a non-expired record with
	// the same name and a different owner already exists.
	Register(ctx context.Context, record *Record) error
	// Resolve returns the endpoint of the first non-expired record named
	// name. Re-verifies the fingerprint on every call; a mismatch evicts the
	// record and is reported as errs.ErrNotFound.
	Resolve(ctx context.Context, name string) ([]byte, error)
	// RegisterShadow stores record under its fingerprint only, defaulting a
	// zero or overlong expiry down to defaultShadowTTLSeconds from now.
	RegisterShadow(ctx context.Context, record *Record, now int64) error
	// ResolveShadow looks a ShadowAddress up by fingerprint only.
	ResolveShadow(ctx context.Context, fp [32]byte) ([]byte, error)
	// EvictExpired removes every cached record expired as of now, returning
	// the count removed. Intended to run periodically.
	EvictExpired(now int64) int
}

type resolver struct {
	log      log.Logger
	clock    *mockable.Clock
	byName   *shardedMap
	byFP     *shardedMap
	fallback FallbackSource
}

// New constructs a Resolver. fallback may be nil, in which case a cache miss
// is reported as errs.ErrNotFound rather than consulted against derived
// ledger state. logger may be nil.
func New(fallback FallbackSource, logger log.Logger) Resolver {
	if logger == nil {
		logger = xlog.NoOp()
	}
	return &resolver{
		log:      logger,
		clock:    mockable.NewClock(),
		byName:   newShardedMap(16),
		byFP:     newShardedMap(16),
		fallback: fallback,
	}
}

func fpKey(fp [32]byte) string { return string(fp[:]) }

func (r *resolver) now() int64 { return r.clock.Now().Unix() }

func (r *resolver) Register(_ context.Context, record *Record) error {
	if record.IsShadow() {
		return fmt.Errorf("resolver: Register requires a named record, use RegisterShadow")
	}
	if err := record.Verify(); err != nil {
		return err
	}
	now := r.now()
	if record.Expired(now) {
		return errs.ErrRecordExpired
	}

	if existing, ok := r.byName.get(record.Name); ok && !existing.Expired(now) {
		if !bytes.Equal(existing.OwnerPK, record.OwnerPK) {
			return errs.ErrNameTaken
		}
	}

	r.byName.set(record.Name, record)
	r.byFP.set(fpKey(record.Fingerprint), record)
	r.log.Debug("dark record registered", log.String("name", record.Name))
	return nil
}

func (r *resolver) Resolve(ctx context.Context, name string) ([]byte, error) {
	record, ok := r.byName.get(name)
	if !ok {
		return r.resolveFallback(ctx, name)
	}
	return r.verifyAndExtract(name, record)
}

func (r *resolver) resolveFallback(ctx context.Context, name string) ([]byte, error) {
	if r.fallback == nil {
		return nil, errs.ErrNotFound
	}
	record, ok, err := r.fallback.LookupByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolver: fallback lookup: %w", err)
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	r.byName.set(name, record)
	r.byFP.set(fpKey(record.Fingerprint), record)
	return r.verifyAndExtract(name, record)
}

func (r *resolver) verifyAndExtract(name string, record *Record) ([]byte, error) {
	now := r.now()
	if record.Expired(now) {
		r.byName.delete(name)
		r.byFP.delete(fpKey(record.Fingerprint))
		return nil, errs.ErrRecordExpired
	}
	if err := record.Verify(); err != nil {
		// A fingerprint mismatch on re-verification is treated as not-found
		// and the stale record is evicted, per spec.md §4.6.
		r.byName.delete(name)
		r.byFP.delete(fpKey(record.Fingerprint))
		return nil, errs.ErrNotFound
	}
	return record.Endpoint, nil
}

func (r *resolver) RegisterShadow(_ context.Context, record *Record, now int64) error {
	if !record.IsShadow() {
		return fmt.Errorf("resolver: RegisterShadow requires an unnamed record")
	}
	if err := record.Verify(); err != nil {
		return err
	}
	if record.Expiry <= now || record.Expiry > now+defaultShadowTTLSeconds {
		record.Expiry = now + defaultShadowTTLSeconds
	}
	r.byFP.set(fpKey(record.Fingerprint), record)
	r.log.Debug("shadow address registered")
	return nil
}

func (r *resolver) ResolveShadow(ctx context.Context, fp [32]byte) ([]byte, error) {
	record, ok := r.byFP.get(fpKey(fp))
	if !ok {
		if r.fallback == nil {
			return nil, errs.ErrNotFound
		}
		var err error
		record, ok, err = r.fallback.LookupByFingerprint(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("resolver: fallback lookup: %w", err)
		}
		if !ok {
			return nil, errs.ErrNotFound
		}
		r.byFP.set(fpKey(fp), record)
	}

	now := r.now()
	if record.Expired(now) {
		r.byFP.delete(fpKey(fp))
		return nil, errs.ErrRecordExpired
	}
	if err := record.Verify(); err != nil {
		r.byFP.delete(fpKey(fp))
		return nil, errs.ErrNotFound
	}
	return record.Endpoint, nil
}

func (r *resolver) EvictExpired(now int64) int {
	// A named record sits in both indexes; count each record once.
	removed := make(map[*Record]struct{})
	expired := func(rec *Record) bool {
		if !rec.Expired(now) {
			return false
		}
		removed[rec] = struct{}{}
		return true
	}
	r.byName.deleteIf(expired)
	r.byFP.deleteIf(expired)
	return len(removed)
}
