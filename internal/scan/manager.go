package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ActiveScan holds live information about the running scan. Callers
// that need a JSON shape should combine the fields with
// Progress.Snapshot instead of marshaling the atomics directly.
type ActiveScan struct {
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// LastResult describes how the most recent scan ended.
type LastResult struct {
	Summary     *Summary  `json:"summary,omitempty"`
	Err         string    `json:"error,omitempty"`
	TriggeredBy string    `json:"triggered_by"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Manager enforces a single-active-scan invariant and exposes start/cancel.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	store *store.Store
	cfg   Config

	active   *ActiveScan
	cancelFn context.CancelFunc
	last     *LastResult
}

// NewManager creates a Manager that runs scans against st with cfg.
func NewManager(st *store.Store, cfg Config) *Manager {
	return &Manager{store: st, cfg: cfg}
}

// UpdateConfig replaces the configuration used for future scans.
// It does NOT affect a currently running scan.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Start launches an asynchronous scan. It returns an ActiveScan snapshot,
// or ErrAlreadyRunning when a scan is already in progress. Configuration
// problems surface here, before the goroutine starts.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	progress := &Progress{}
	scanner, err := New(m.store, m.cfg, progress, nil)
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(parentCtx)
	active := &ActiveScan{
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel

	go func() {
		defer cancel()
		sum, runErr := scanner.Run(scanCtx)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			slog.Error("scan run error", "error", runErr)
		}

		last := &LastResult{
			Summary:     sum,
			TriggeredBy: triggeredBy,
			FinishedAt:  time.Now(),
		}
		if runErr != nil {
			last.Err = runErr.Error()
		}

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.last = last
		m.mu.Unlock()
	}()

	return active, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// Last returns how the most recent scan ended, or nil when none has
// finished since the process started.
func (m *Manager) Last() *LastResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	snap := *m.last
	return &snap
}
