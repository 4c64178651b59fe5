// Package scheduler provides scheduling logic for NurseTalk.
//
// It runs the periodic maintenance jobs: sweeping idle sessions and removing
// stale synthesized audio clips.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Smoke-IT/NurseTalk/internal/session"
)

// Default schedules for the maintenance jobs.
const (
	// SessionSweepSchedule runs the idle-session sweep every 10 minutes.
	SessionSweepSchedule = "*/10 * * * *"
	// AudioCleanupSchedule runs the audio clip cleanup hourly.
	AudioCleanupSchedule = "0 * * * *"
	// AudioMaxAge is how long synthesized clips are kept.
	AudioMaxAge = 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddSessionSweep schedules the idle-session sweep on the given store.
func (s *Scheduler) AddSessionSweep(sessions session.Store) error {
	return s.AddJob(SessionSweepSchedule, func() {
		removed := sessions.Sweep(time.Now())
		if removed > 0 {
			slog.Info("Scheduler swept idle sessions", "count", removed)
		}
	})
}

// AudioCleaner removes old synthesized clips. Implemented by speech.Service.
type AudioCleaner interface {
	CleanOldFiles(maxAge time.Duration) (int, error)
}

// AddAudioCleanup schedules stale audio clip removal.
func (s *Scheduler) AddAudioCleanup(cleaner AudioCleaner) error {
	return s.AddJob(AudioCleanupSchedule, func() {
		if _, err := cleaner.CleanOldFiles(AudioMaxAge); err != nil {
			slog.Warn("Scheduler audio cleanup failed", "error", err)
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
