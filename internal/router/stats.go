package router

import "sync/atomic"

// Stats is a point-in-time copy of the router counters.
type Stats struct {
	Lines        uint64 `json:"lines"`
	Empty        uint64 `json:"empty"`
	Malformed    uint64 `json:"malformed"`
	Decoded      uint64 `json:"decoded"`
	Unrecognised uint64 `json:"unrecognised"`
	Unrouted     uint64 `json:"unrouted"`
	Delivered    uint64 `json:"delivered"`
	Evicted      uint64 `json:"evicted"`
	PayloadBytes uint64 `json:"payload_bytes"`
}

type counters struct {
	lines        atomic.Uint64
	empty        atomic.Uint64
	malformed    atomic.Uint64
	decoded      atomic.Uint64
	unrecognised atomic.Uint64
	unrouted     atomic.Uint64
	delivered    atomic.Uint64
	evicted      atomic.Uint64
	payloadBytes atomic.Uint64
}

// Stats returns the current counters. Unrouted counts sensor telegrams no
// attached sensor wanted; Delivered and Evicted count per-queue pushes.
func (r *Router) Stats() Stats {
	return Stats{
		Lines:        r.stats.lines.Load(),
		Empty:        r.stats.empty.Load(),
		Malformed:    r.stats.malformed.Load(),
		Decoded:      r.stats.decoded.Load(),
		Unrecognised: r.stats.unrecognised.Load(),
		Unrouted:     r.stats.unrouted.Load(),
		Delivered:    r.stats.delivered.Load(),
		Evicted:      r.stats.evicted.Load(),
		PayloadBytes: r.stats.payloadBytes.Load(),
	}
}
