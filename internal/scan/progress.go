package scan

import "sync/atomic"

// Progress holds live counters updated by the scan phases. All fields
// are atomic so hashing workers can write them while the HTTP handler
// and the CLI ticker read them without locks.
type Progress struct {
	// Walk phase.
	Walked    atomic.Int64 // regular files seen
	Unchanged atomic.Int64 // kept a confirmed digest (metadata matched)
	Refreshed atomic.Int64 // fast path: change policy fully satisfied
	Pruned    atomic.Int64 // records removed for vanished paths

	// Hashing phases.
	Pending       atomic.Int64 // records awaiting a full digest this cycle
	TierOneHashed atomic.Int64 // tier-1 digests computed
	FullHashed    atomic.Int64 // full digests confirmed
	SkippedUnique atomic.Int64 // pending files left unconfirmed (unique signature)
	BytesHashed   atomic.Int64 // bytes fed to digest functions

	Errors atomic.Int64 // per-file failures (walk, stat, read)
}

// ProgressSnapshot is a point-in-time copy of the counters, shaped for
// JSON surfaces and the CLI ticker.
type ProgressSnapshot struct {
	Walked        int64 `json:"walked"`
	Unchanged     int64 `json:"unchanged"`
	Refreshed     int64 `json:"refreshed"`
	Pruned        int64 `json:"pruned"`
	Pending       int64 `json:"pending"`
	TierOneHashed int64 `json:"tier1_hashed"`
	FullHashed    int64 `json:"full_hashed"`
	SkippedUnique int64 `json:"skipped_unique"`
	BytesHashed   int64 `json:"bytes_hashed"`
	Errors        int64 `json:"errors"`
}

// Snapshot reads every counter once.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Walked:        p.Walked.Load(),
		Unchanged:     p.Unchanged.Load(),
		Refreshed:     p.Refreshed.Load(),
		Pruned:        p.Pruned.Load(),
		Pending:       p.Pending.Load(),
		TierOneHashed: p.TierOneHashed.Load(),
		FullHashed:    p.FullHashed.Load(),
		SkippedUnique: p.SkippedUnique.Load(),
		BytesHashed:   p.BytesHashed.Load(),
		Errors:        p.Errors.Load(),
	}
}

// ErrorReporter receives a per-file failure: the path, the phase it
// failed in ("walk", "tier1", "full") and the error text. The scan
// continues past reported errors.
type ErrorReporter func(path, stage, errMsg string)
