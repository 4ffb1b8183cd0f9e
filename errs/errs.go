// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs declares the node core's error taxonomy. Every kind listed in
// spec.md §7 is a comparable sentinel here; component code wraps a sentinel
// with fmt.Errorf("%w: detail", ...) so callers can still errors.Is against
// the kind while the control plane's Kind extractor recovers a stable string
// for {error_kind, detail} responses.
package errs

import (
	"errors"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Admission errors: reported to the submitter, the vertex is never persisted.
var (
	ErrInvalidSignature      = errors.New("admission: invalid signature")
	ErrUnknownParent         = errors.New("admission: unknown parent")
	ErrParentCountOutOfRange = errors.New("admission: parent count out of range")
	ErrCycle                 = errors.New("admission: cycle detected")
	ErrPayloadTooLarge       = errors.New("admission: payload too large")
	ErrDuplicate             = errors.New("admission: duplicate vertex")
)

// Consensus errors: local and transient, never roll back finalized state.
var (
	ErrSampleTimeout      = errors.New("consensus: sample query timeout")
	ErrInsufficientPeers  = errors.New("consensus: insufficient peers for sample")
	ErrMaxRoundsExceeded  = errors.New("consensus: max rounds exceeded")
	ErrConflictUnresolved = errors.New("consensus: conflict set unresolved")
)

// Ledger errors. StateDeterminismFailure is fatal.
var (
	ErrInsufficientBalance      = errors.New("ledger: insufficient balance")
	ErrBadNonce                 = errors.New("ledger: bad nonce")
	ErrPolicyViolation          = errors.New("ledger: policy violation")
	ErrStateDeterminismFailure  = errors.New("ledger: state determinism failure")
)

// Circuit errors.
var (
	ErrCircuitBuildFailed = errors.New("circuit: build failed")
	ErrCircuitClosed      = errors.New("circuit: closed")
	ErrHopUnreachable     = errors.New("circuit: hop unreachable")
	ErrLayerDecryptFailed = errors.New("circuit: layer decrypt failed")
)

// Resolver errors.
var (
	ErrNameTaken           = errors.New("resolver: name taken")
	ErrFingerprintMismatch = errors.New("resolver: fingerprint mismatch")
	ErrRecordExpired       = errors.New("resolver: record expired")
	ErrNotFound            = errors.New("resolver: not found")
)

// Storage errors. Corrupted is fatal.
var (
	ErrCorrupted = errors.New("storage: corrupted")
	ErrOutOfSpace = errors.New("storage: out of space")
	ErrIO         = errors.New("storage: io error")
)

// System errors.
var (
	ErrOverloaded = errors.New("system: overloaded")
	ErrCancelled  = errors.New("system: cancelled")
	ErrTimeout    = errors.New("system: timeout")
)

// Fatal reports whether err (or something it wraps) is one of the two kinds
// that halt the node rather than surface as a per-operation failure:
// Storage.Corrupted and Ledger.StateDeterminismFailure.
func Fatal(err error) bool {
	return errors.Is(err, ErrCorrupted) || errors.Is(err, ErrStateDeterminismFailure)
}

// kinds lists every sentinel paired with its stable kind string, most
// specific first so Kind never matches a looser sentinel by accident.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidSignature, "Admission.InvalidSignature"},
	{ErrUnknownParent, "Admission.UnknownParent"},
	{ErrParentCountOutOfRange, "Admission.ParentCountOutOfRange"},
	{ErrCycle, "Admission.Cycle"},
	{ErrPayloadTooLarge, "Admission.PayloadTooLarge"},
	{ErrDuplicate, "Admission.Duplicate"},
	{ErrSampleTimeout, "Consensus.SampleTimeout"},
	{ErrInsufficientPeers, "Consensus.InsufficientPeers"},
	{ErrMaxRoundsExceeded, "Consensus.MaxRoundsExceeded"},
	{ErrConflictUnresolved, "Consensus.ConflictUnresolved"},
	{ErrInsufficientBalance, "Ledger.InsufficientBalance"},
	{ErrBadNonce, "Ledger.BadNonce"},
	{ErrPolicyViolation, "Ledger.PolicyViolation"},
	{ErrStateDeterminismFailure, "Ledger.StateDeterminismFailure"},
	{ErrCircuitBuildFailed, "Circuit.CircuitBuildFailed"},
	{ErrCircuitClosed, "Circuit.CircuitClosed"},
	{ErrHopUnreachable, "Circuit.HopUnreachable"},
	{ErrLayerDecryptFailed, "Circuit.LayerDecryptFailed"},
	{ErrNameTaken, "Resolver.NameTaken"},
	{ErrFingerprintMismatch, "Resolver.FingerprintMismatch"},
	{ErrRecordExpired, "Resolver.RecordExpired"},
	{ErrNotFound, "Resolver.NotFound"},
	{ErrCorrupted, "Storage.Corrupted"},
	{ErrOutOfSpace, "Storage.OutOfSpace"},
	{ErrIO, "Storage.IoError"},
	{ErrOverloaded, "System.Overloaded"},
	{ErrCancelled, "System.Cancelled"},
	{ErrTimeout, "System.Timeout"},
}

// Kind extracts the stable kind string the control API returns alongside a
// non-stable human detail. Unrecognized errors get "Unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// WithStack wraps a fatal error (Storage.Corrupted or
// Ledger.StateDeterminismFailure) with a captured stack trace before it is
// logged and the node halts, so operators get a usable report without
// having to reproduce the failure.
func WithStack(err error) error {
	return cockroacherrors.WithStack(err)
}
