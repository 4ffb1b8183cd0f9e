// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package onion

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Jitter draws a uniform random delay in [0, max], spec.md §4.5's per-hop
// timing-jitter countermeasure (J_MAX default 50ms, see
// config.Parameters.JMax).
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return max / 2 // fail safe to the distribution's midpoint rather than zero delay
	}
	frac := float64(binary.LittleEndian.Uint64(buf[:])) / float64(math.MaxUint64)
	return time.Duration(frac * float64(max))
}

// CoverDecision reports whether to inject one cover circuit alongside the
// just-dispatched real message, per spec.md §4.5's cover-traffic rate
// (default ~10% of real traffic volume — config.Parameters.CoverRate).
// Cover circuits are built and sealed exactly like real ones and dropped at
// the last hop; this function only decides whether one is due.
func CoverDecision(rate float64) bool {
	if rate <= 0 {
		return false
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return false
	}
	frac := float64(binary.LittleEndian.Uint64(buf[:])) / float64(math.MaxUint64)
	return frac < rate
}

// batchedMessage is one message waiting in a Batcher.
type batchedMessage struct {
	kemCiphertext []byte
	frame         []byte
}

// Batcher accumulates outbound layer frames for one hop and releases them
// together, reordered, once either size or BatchSize messages have
// accumulated or BatchWait has elapsed — spec.md §4.5's batching
// countermeasure. Reordering within a batch breaks the sender-observed
// arrival order a passive timing correlator would otherwise see.
type Batcher struct {
	mu        sync.Mutex
	size      int
	wait      time.Duration
	pending   []batchedMessage
	flushes   chan []batchedMessage
	timer     *time.Timer
	permuter  func(n int) []int
}

// NewBatcher constructs a Batcher. size and wait should come from
// config.Parameters.BatchSize/BatchWait.
func NewBatcher(size int, wait time.Duration) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{
		size:     size,
		wait:     wait,
		flushes:  make(chan []batchedMessage, 1),
		permuter: randomPermutation,
	}
}

// Add enqueues one message. If this message fills the batch, Add flushes
// immediately; otherwise it (re)starts the max-wait timer.
func (b *Batcher) Add(kemCiphertext, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, batchedMessage{kemCiphertext: kemCiphertext, frame: frame})
	if len(b.pending) >= b.size {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.wait, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.flushLocked()
		})
	}
}

// flushLocked releases the current batch in a random order. Caller holds b.mu.
func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	order := b.permuter(len(b.pending))
	out := make([]batchedMessage, len(b.pending))
	for i, j := range order {
		out[i] = b.pending[j]
	}
	b.pending = nil

	select {
	case b.flushes <- out:
	default:
		// Drain a stale unread flush rather than block the writer under
		// contention; the Batcher is a best-effort batching hint, not a
		// delivery guarantee.
		select {
		case <-b.flushes:
		default:
		}
		b.flushes <- out
	}
}

// Flushes returns the channel Batcher delivers completed batches on.
func (b *Batcher) Flushes() <-chan []batchedMessage { return b.flushes }

// Wait blocks until the next batch flushes or ctx is cancelled.
func (b *Batcher) Wait(ctx context.Context) ([]batchedMessage, error) {
	select {
	case batch := <-b.flushes:
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func randomPermutation(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			continue
		}
		j := int(binary.LittleEndian.Uint64(buf[:]) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}
