// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the node core's immutable configuration. A Parameters
// value is built once at startup by Load (or one of the presets) and passed
// by pointer into every component constructor; there is no package-level
// global, so two nodes in the same process (as in tests) never share state.
package config

import "time"

// Parameters contains consensus, ledger, onion-routing, and peer-manager
// configuration for one node. It is immutable after construction.
type Parameters struct {
	// QR-Avalanche sampling/thresholds.
	K               int // sample size per query round
	AlphaPreference int // α: quorum threshold for preference switch / confidence increment
	Beta            int // β: consecutive successful rounds to Accept
	BetaFinalize    int // additional consecutive rounds (ancestors Accepted) to Finalize
	MaxRounds       int // liveness fallback: Reject if still ambiguous after this many rounds

	// DAG admission.
	KMaxParents int   // maximum parent count per vertex (excluding genesis)
	MaxPayload  int64 // maximum payload size in bytes

	// Timing.
	QueryTimeout     time.Duration // per-sample-query deadline before counting as no-opinion
	QueryRetries     int           // retries over a fresh circuit before counting as no-opinion
	MinRoundInterval time.Duration // minimum spacing between consensus rounds for one vertex

	// Onion router.
	HopsMin   int           // minimum circuit length
	HopsMax   int           // maximum circuit length
	JMax      time.Duration // per-hop timing jitter ceiling
	CoverRate float64       // fraction of real traffic volume added as cover circuits
	BatchSize int           // messages a hop accumulates before dispatch
	BatchWait time.Duration // max wait before dispatching a partial batch

	// Peer manager.
	ReputationMin    int           // peers below this reputation are excluded from sampling
	AutoBanThreshold int           // reputation at/below this triggers automatic ban
	BanCooldown      time.Duration // duration of an automatic ban
	SuccessDelta     int           // reputation delta on successful query
	TimeoutDelta     int           // reputation delta on query timeout
	ViolationDelta   int           // reputation delta on protocol violation

	// Ledger.
	BaseFee uint64 // base fee in voucher units before load scaling
	MaxFee  uint64 // fee ceiling regardless of load

	// Control plane backpressure.
	WriterQueueHighWaterMark int // DAG writer queue depth at which submissions are rejected Overloaded
}

// Validate checks Parameters for the invariants the rest of the core assumes.
func (p Parameters) Validate() error {
	switch {
	case p.K < 1:
		return ErrInvalidK
	case p.AlphaPreference < p.K/2+1 || p.AlphaPreference > p.K:
		return ErrInvalidAlpha
	case p.Beta < 1, p.BetaFinalize < 1:
		return ErrInvalidBeta
	case p.KMaxParents < 1 || p.KMaxParents > 8:
		return ErrInvalidKMaxParents
	case p.HopsMin < 3 || p.HopsMax > 7 || p.HopsMin > p.HopsMax:
		return ErrInvalidHopRange
	}
	return nil
}

// Mainnet returns the production parameter set: K=20, α=0.8K=16, β=15, an
// additional β_finalize=5 rounds to finality, and a 150-round liveness cap.
func Mainnet() Parameters {
	return Parameters{
		K:               20,
		AlphaPreference: 16,
		Beta:            15,
		BetaFinalize:    5,
		MaxRounds:       150,

		KMaxParents: 8,
		MaxPayload:  1 << 20, // 1 MiB

		QueryTimeout:     2 * time.Second,
		QueryRetries:     3,
		MinRoundInterval: 50 * time.Millisecond,

		HopsMin:   3,
		HopsMax:   7,
		JMax:      50 * time.Millisecond,
		CoverRate: 0.10,
		BatchSize: 8,
		BatchWait: 100 * time.Millisecond,

		ReputationMin:    -10,
		AutoBanThreshold: -50,
		BanCooldown:      24 * time.Hour,
		SuccessDelta:     1,
		TimeoutDelta:     -2,
		ViolationDelta:   -20,

		BaseFee: 10,
		MaxFee:  10_000,

		WriterQueueHighWaterMark: 4096,
	}
}

// Testnet returns a faster-finalizing set for smaller deployments.
func Testnet() Parameters {
	p := Mainnet()
	p.K = 11
	p.AlphaPreference = 9
	p.Beta = 8
	p.BetaFinalize = 3
	p.MaxRounds = 80
	p.WriterQueueHighWaterMark = 1024
	return p
}

// Local returns a single-process development set with minimal rounds.
func Local() Parameters {
	p := Mainnet()
	p.K = 5
	p.AlphaPreference = 4
	p.Beta = 3
	p.BetaFinalize = 2
	p.MaxRounds = 30
	p.QueryTimeout = 200 * time.Millisecond
	p.MinRoundInterval = 5 * time.Millisecond
	p.BatchWait = 10 * time.Millisecond
	p.WriterQueueHighWaterMark = 256
	return p
}

// Load returns the preset for name, defaulting to Local for an unknown or
// empty name. Config-file parsing is explicitly out of scope (spec.md
// Non-goals); callers that need file-driven config layer it on top of this.
func Load(name string) Parameters {
	switch name {
	case "mainnet":
		return Mainnet()
	case "testnet":
		return Testnet()
	default:
		return Local()
	}
}
