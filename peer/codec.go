// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package peer

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// encodeInfo serializes an Info for the KV store: peer_id[20] ‖
// reputation:i32 ‖ status:u8 ‖ last_seen:i64 ‖ latency_ewma_ms:f64 ‖
// success_rate_ewma:f64 ‖ banned_until:i64, all little-endian, mirroring
// ledger.Payload's and resolver.Record's fixed-then-variable field layout
// (this record has no variable-length fields, so it's fixed-width
// throughout).
func encodeInfo(info *Info) []byte {
	buf := make([]byte, 20+4+1+8+8+8+8)
	off := 0
	copy(buf[off:], info.PeerID[:])
	off += 20

	binary.LittleEndian.PutUint32(buf[off:], uint32(info.Reputation))
	off += 4

	buf[off] = byte(info.Status)
	off++

	binary.LittleEndian.PutUint64(buf[off:], uint64(info.LastSeen.Unix()))
	off += 8

	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(info.LatencyEWMAMs))
	off += 8

	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(info.SuccessRateEWMA))
	off += 8

	binary.LittleEndian.PutUint64(buf[off:], uint64(info.BannedUntil.Unix()))
	return buf
}

func decodeInfo(b []byte) (*Info, error) {
	const want = 20 + 4 + 1 + 8 + 8 + 8 + 8
	if len(b) != want {
		return nil, fmt.Errorf("peer: record has %d bytes, want %d", len(b), want)
	}
	info := &Info{}
	off := 0
	copy(info.PeerID[:], b[off:off+20])
	off += 20

	info.Reputation = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4

	info.Status = Status(b[off])
	off++

	info.LastSeen = unixOrZero(int64(binary.LittleEndian.Uint64(b[off:])))
	off += 8

	info.LatencyEWMAMs = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	info.SuccessRateEWMA = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	info.BannedUntil = unixOrZero(int64(binary.LittleEndian.Uint64(b[off:])))
	return info, nil
}

// unixOrZero converts a stored unix-seconds value back to a time.Time,
// preserving the zero value (time.Time{}.Unix() == -62135596800, not 0) so a
// peer that was never banned decodes with a zero BannedUntil rather than an
// arbitrary epoch time.
var zeroUnix = time.Time{}.Unix()

func unixOrZero(sec int64) time.Time {
	if sec == zeroUnix {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
