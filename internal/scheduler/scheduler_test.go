package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/session"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestSchedulerAddSessionSweep(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddSessionSweep(session.NewInMemoryStore()); err != nil {
		t.Errorf("Expected no error adding session sweep, got %v", err)
	}
}

type failingCleaner struct{}

func (failingCleaner) CleanOldFiles(maxAge time.Duration) (int, error) {
	return 0, errors.New("disk trouble")
}

func TestSchedulerAddAudioCleanup(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddAudioCleanup(failingCleaner{}); err != nil {
		t.Errorf("Expected no error adding audio cleanup, got %v", err)
	}
}
