package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsBadExpression(t *testing.T) {
	if _, err := New("not a cron line", func() {}); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}

func TestJobFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, err := New("@every 10ms", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestNextRunAfterStart(t *testing.T) {
	s, err := New("@every 1h", func() {})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	defer s.Stop()

	next := s.NextRun()
	if next.IsZero() {
		t.Fatal("next run should be scheduled after Start")
	}
	if until := time.Until(next); until <= 0 || until > time.Hour {
		t.Errorf("next run is %v away, want within the hour", until)
	}
	if s.Expr() != "@every 1h" {
		t.Errorf("expr = %q, want the registered expression", s.Expr())
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{}, 1)
	s, err := New("@every 10ms", func() {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the running job finished")
	}
}
