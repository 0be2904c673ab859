package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	internaldb "github.com/harishkarthiktk/dupFinder/internal/db"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// mustOpenStore opens a migrated store on a throwaway database file.
func mustOpenStore(tb testing.TB) *store.Store {
	tb.Helper()
	db, err := internaldb.Open(filepath.Join(tb.TempDir(), "scan-test.db"))
	if err != nil {
		tb.Fatalf("open database: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	if err := internaldb.RunMigrations(db); err != nil {
		tb.Fatalf("run migrations: %v", err)
	}
	return store.New(db, 0)
}

// writeTree creates the given files under dir. Keys are slash-separated
// relative paths, values are file contents. Parent directories are
// created as needed.
func writeTree(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			tb.Fatalf("write %s: %v", rel, err)
		}
	}
}

// failOnError is an ErrorReporter that fails the test on any report.
func failOnError(tb testing.TB) ErrorReporter {
	return func(path, stage, errMsg string) {
		tb.Errorf("unexpected %s error for %s: %s", stage, path, errMsg)
	}
}

// testConfig returns a small config for exercising full cycles.
func testConfig(root string) Config {
	return Config{
		Roots:     []string{root},
		Algorithm: "sha256",
		Workers:   2,
		BatchSize: 4,
	}
}

// runScan executes one cycle and fails the test on any error.
func runScan(tb testing.TB, st *store.Store, cfg Config) *Summary {
	tb.Helper()
	s, err := New(st, cfg, nil, failOnError(tb))
	if err != nil {
		tb.Fatalf("new scanner: %v", err)
	}
	sum, err := s.Run(context.Background())
	if err != nil {
		tb.Fatalf("scan: %v", err)
	}
	return sum
}

// record fetches one stored record by absolute path.
func record(tb testing.TB, st *store.Store, path string) *store.FileRecord {
	tb.Helper()
	rec, err := st.ByPath(context.Background(), path)
	if err != nil {
		tb.Fatalf("record for %s: %v", path, err)
	}
	return rec
}
