// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

// FeeFunc computes the fee for one Transfer/Burn application given the
// current round's load (consensus.Engine.Load(), a count of conflict-set
// instances still being voted on), a configured base fee, and a hard
// ceiling. spec.md §9 leaves the exact fee-computation function
// underspecified and asks for "a configured function f(load) -> u128";
// LinearLoadFee is this repo's default.
type FeeFunc func(load int, base, max uint64) uint64

// LinearLoadFee scales base linearly with load and caps the result at max.
// It is deliberately simple: load is a coarse backlog signal, not a
// precise congestion metric, so a more elaborate curve would imply
// precision the signal doesn't have.
func LinearLoadFee(load int, base, max uint64) uint64 {
	if load < 0 {
		load = 0
	}
	fee := base * uint64(1+load)
	if fee > max {
		return max
	}
	return fee
}
