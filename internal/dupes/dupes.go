// Package dupes derives duplicate groups from stored file records.
// It is pure aggregation: callers supply a store enumeration and get
// back groups and totals, no I/O happens here.
package dupes

import (
	"sort"

	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// Group is a set of paths sharing a confirmed full digest.
type Group struct {
	Hash   string   `json:"hash"`
	Size   int64    `json:"size"`
	Paths  []string `json:"paths"`
	Wasted int64    `json:"wasted"`
}

// Groups partitions records by full digest and keeps digests shared by
// at least two files. Records without a confirmed digest never group: a
// tier-1 match alone schedules hashing, it does not declare duplicates.
// Groups come back ordered by wasted bytes descending then hash, with
// paths sorted inside each group, so output is stable for a given store
// state.
func Groups(records []store.FileRecord) []Group {
	type agg struct {
		size  int64
		paths []string
	}
	byHash := make(map[string]*agg)
	for i := range records {
		r := &records[i]
		if r.FullHash == "" {
			continue
		}
		a := byHash[r.FullHash]
		if a == nil {
			a = &agg{size: r.FileSize}
			byHash[r.FullHash] = a
		}
		a.paths = append(a.paths, r.AbsolutePath)
	}

	groups := make([]Group, 0, len(byHash))
	for h, a := range byHash {
		if len(a.paths) < 2 {
			continue
		}
		sort.Strings(a.paths)
		groups = append(groups, Group{
			Hash:   h,
			Size:   a.size,
			Paths:  a.paths,
			Wasted: a.size * int64(len(a.paths)-1),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Wasted != groups[j].Wasted {
			return groups[i].Wasted > groups[j].Wasted
		}
		return groups[i].Hash < groups[j].Hash
	})
	return groups
}

// Stats holds store-wide totals for the report and status surfaces.
type Stats struct {
	Files       int   `json:"files"`
	Bytes       int64 `json:"bytes"`
	Groups      int   `json:"groups"`
	Duplicates  int   `json:"duplicates"`
	WastedBytes int64 `json:"wasted_bytes"`
	Pending     int   `json:"pending"`
}

// Summarize computes totals over an entire enumeration. Pending counts
// files still awaiting a full digest; zero-byte files are never pending.
func Summarize(records []store.FileRecord) Stats {
	var s Stats
	s.Files = len(records)
	for i := range records {
		s.Bytes += records[i].FileSize
		if records[i].FullHash == "" && records[i].FileSize > 0 {
			s.Pending++
		}
	}
	for _, g := range Groups(records) {
		s.Groups++
		s.Duplicates += len(g.Paths)
		s.WastedBytes += g.Wasted
	}
	return s
}
