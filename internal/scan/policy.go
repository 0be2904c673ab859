package scan

import (
	"time"

	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// Epsilon absorbs filesystem timestamp quantization and float-column
// rounding when modification times are compared.
const Epsilon = time.Microsecond

// Unchanged reports whether a stored record can be trusted for the
// currently observed (size, modTime) without re-reading the file. All
// conditions must hold:
//
//  1. a record exists for the path,
//  2. its full digest completed (not merely pending),
//  3. the stored size matches the observed one,
//  4. at least one prior scan cycle completed (watermark set),
//  5. the stored modification time is not older than the watermark, and
//  6. the observed modification time is not newer than the stored one,
//     within Epsilon.
//
// False negatives only cost a re-observation; a false positive would
// skip a file whose content moved, so every condition errs toward
// "changed".
func Unchanged(rec *store.FileRecord, size int64, modTime, watermark time.Time) bool {
	if rec == nil || rec.FullHash == "" {
		return false
	}
	if rec.FileSize != size {
		return false
	}
	if watermark.IsZero() {
		return false
	}
	if rec.ModifiedTime.Before(watermark) {
		return false
	}
	return !modTime.After(rec.ModifiedTime.Add(Epsilon))
}

// metaEqual reports whether the observed size and modification time
// match the stored pair within Epsilon. This is the store upsert's
// clearing rule, evaluated here for accounting.
func metaEqual(rec *store.FileRecord, size int64, modTime time.Time) bool {
	if rec == nil || rec.FileSize != size {
		return false
	}
	d := modTime.Sub(rec.ModifiedTime)
	if d < 0 {
		d = -d
	}
	return d <= Epsilon
}
