package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harishkarthiktk/dupFinder/internal/hash"
)

func TestManagerRunsScanToCompletion(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.txt": "same content!",
		"two.txt": "same content!",
	})
	st := mustOpenStore(t)
	m := NewManager(st, testConfig(root))

	active, err := m.Start(context.Background(), "test")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if active.TriggeredBy != "test" {
		t.Errorf("triggered by %q, want test", active.TriggeredBy)
	}

	deadline := time.After(10 * time.Second)
	for m.ActiveScan() != nil {
		select {
		case <-deadline:
			t.Fatal("scan did not finish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	last := m.Last()
	if last == nil {
		t.Fatal("no last result after completion")
	}
	if last.Err != "" {
		t.Fatalf("scan failed: %s", last.Err)
	}
	if last.Summary == nil || last.Summary.Walked != 2 {
		t.Errorf("last summary = %+v, want walked 2", last.Summary)
	}
}

func TestManagerRejectsSecondScan(t *testing.T) {
	st := mustOpenStore(t)
	m := NewManager(st, testConfig(t.TempDir()))

	// Pin an active scan in place so the invariant check is not racing
	// a real goroutine.
	m.mu.Lock()
	m.active = &ActiveScan{StartedAt: time.Now(), TriggeredBy: "pinned", Progress: &Progress{}}
	m.cancelFn = func() {}
	m.mu.Unlock()

	if _, err := m.Start(context.Background(), "api"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}

	snap, err := m.Cancel()
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if snap.TriggeredBy != "pinned" {
		t.Errorf("cancelled %q, want pinned", snap.TriggeredBy)
	}
}

func TestManagerCancelWhenIdle(t *testing.T) {
	st := mustOpenStore(t)
	m := NewManager(st, testConfig(t.TempDir()))

	if _, err := m.Cancel(); !errors.Is(err, ErrNoActiveScan) {
		t.Fatalf("err = %v, want ErrNoActiveScan", err)
	}
}

func TestManagerRejectsBadAlgorithm(t *testing.T) {
	st := mustOpenStore(t)
	cfg := testConfig(t.TempDir())
	cfg.Algorithm = "crc32"
	m := NewManager(st, cfg)

	if _, err := m.Start(context.Background(), "test"); !errors.Is(err, hash.ErrUnsupportedAlgorithm) {
		t.Fatalf("err = %v, want ErrUnsupportedAlgorithm", err)
	}
	if m.ActiveScan() != nil {
		t.Error("active scan left behind after a failed start")
	}
}
