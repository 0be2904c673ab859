package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps robfig/cron around a single recurring job.
type Scheduler struct {
	c       *cron.Cron
	entryID cron.EntryID
	expr    string
}

// New validates expr and registers fn to run on it. The scheduler is
// created stopped; call Start to activate it. Overlap handling is the
// job's responsibility: fn should treat "already running" as a skip.
func New(expr string, fn func()) (*Scheduler, error) {
	c := cron.New()
	id, err := c.AddFunc(expr, fn)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{c: c, entryID: id, expr: expr}, nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
	slog.Info("scheduler started", "cron", s.expr, "next_run", s.NextRun())
}

// Stop halts the cron loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
	slog.Info("scheduler stopped")
}

// NextRun returns the next scheduled time. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	return s.c.Entry(s.entryID).Next
}

// Expr returns the cron expression the job was registered with.
func (s *Scheduler) Expr() string {
	return s.expr
}
