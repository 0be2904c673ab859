package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/harishkarthiktk/dupFinder/internal/db"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// mustOpenStore opens a temp-file SQLite store with the full schema applied.
func mustOpenStore(tb testing.TB, batchSize int) *store.Store {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(path)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return store.New(db, batchSize)
}

// obs builds an Observation with sane defaults.
func obs(path string, size int64, mtime time.Time) store.Observation {
	return store.Observation{
		AbsolutePath: path,
		Filename:     filepath.Base(path),
		FileSize:     size,
		ModifiedTime: mtime,
		ScanDate:     time.Now(),
	}
}

func mustObserve(tb testing.TB, s *store.Store, o store.Observation) {
	tb.Helper()
	if err := s.ObserveBatch(context.Background(), []store.Observation{o}); err != nil {
		tb.Fatalf("observe %s: %v", o.AbsolutePath, err)
	}
}

func byPath(tb testing.TB, s *store.Store, path string) *store.FileRecord {
	tb.Helper()
	rec, err := s.ByPath(context.Background(), path)
	if err != nil {
		tb.Fatalf("ByPath(%s): %v", path, err)
	}
	return rec
}

func mustPending(tb testing.TB, s *store.Store) []store.PendingFile {
	tb.Helper()
	pending, err := s.Pending(context.Background())
	if err != nil {
		tb.Fatalf("Pending: %v", err)
	}
	return pending
}

// near reports whether two times agree within the float-column rounding
// the store tolerates.
func near(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Microsecond
}
