// Package accounting implements the admissibility test and per-resource
// running sums described in spec.md §3 and §4.2. It holds no locks and
// expects to be called only from the broker's single admission-engine
// goroutine.
package accounting

import "github.com/dvid-broker/resourcebroker/internal/wire"

// Stats is the 4-tuple of non-negative running sums for one resource
// name: the aggregate of currently-held (granted-and-not-released)
// requests touching that resource.
type Stats struct {
	ReadReqs  int
	ReadData  int
	WriteReqs int
	WriteData int
}

// Request is one admitted or proposed client request.
type Request struct {
	ID       int64
	Resource string
	Read     bool
	NumOpts  int
	DataSize int
}

func (r Request) reqs() int { return r.NumOpts }
func (r Request) data() int { return r.DataSize }

// projected returns stats with the request's delta applied to the pair
// (reqs, data) matching r.Read.
func projected(r Request, stats Stats) Stats {
	p := stats
	if r.Read {
		p.ReadReqs += r.reqs()
		p.ReadData += r.data()
	} else {
		p.WriteReqs += r.reqs()
		p.WriteData += r.data()
	}
	return p
}

// Admissible reports whether committing r would keep all four
// per-resource counters at or below their config ceilings. All four
// fields are checked -- not just the pair r touches -- because a
// reconfigure may have tightened an unrelated field below its current
// usage (spec.md §4.2).
func Admissible(r Request, stats Stats, cfg wire.Config) bool {
	p := projected(r, stats)
	return p.ReadReqs <= cfg.ReadReqs &&
		p.ReadData <= cfg.ReadData &&
		p.WriteReqs <= cfg.WriteReqs &&
		p.WriteData <= cfg.WriteData
}

// Infeasible reports whether r can NEVER be admitted under cfg,
// regardless of how empty the resource's stats are (spec.md §4.2,
// §7 "Infeasible"). This is distinct from Admissible: a request can be
// inadmissible right now (capacity reached) yet still feasible once
// other holders release.
func Infeasible(r Request, cfg wire.Config) bool {
	if r.Read {
		return r.NumOpts > cfg.ReadReqs || r.DataSize > cfg.ReadData
	}
	return r.NumOpts > cfg.WriteReqs || r.DataSize > cfg.WriteData
}

// Commit adds r's delta to stats. Call only after Admissible(r, stats,
// cfg) returned true for the same stats value.
func Commit(r Request, stats *Stats) {
	if r.Read {
		stats.ReadReqs += r.reqs()
		stats.ReadData += r.data()
	} else {
		stats.WriteReqs += r.reqs()
		stats.WriteData += r.data()
	}
}

// Release subtracts r's delta from stats. r must be the stored request
// record for the id being released, never client-supplied values --
// the release message on the wire carries only the id (spec.md §4.2).
func Release(r Request, stats *Stats) {
	if r.Read {
		stats.ReadReqs -= r.reqs()
		stats.ReadData -= r.data()
	} else {
		stats.WriteReqs -= r.reqs()
		stats.WriteData -= r.data()
	}
}
