// Package scheduler keeps the stored token fresh in the background so
// interactive requests rarely pay the refresh latency themselves.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"apibridge/internal/common/logging"
)

// TokenRefresher is the slice of the auth manager the scheduler needs.
type TokenRefresher interface {
	IsAuthenticated(ctx context.Context) bool
	GetValidAccessToken(ctx context.Context) (string, error)
}

// refreshTimeout bounds a single background refresh attempt.
const refreshTimeout = 30 * time.Second

// Outcome values reported by Status.
const (
	OutcomeNever   = "never"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Status is a snapshot of the scheduler for status reporting.
type Status struct {
	Armed       bool          `json:"armed"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"last_run,omitempty"`
	LastOutcome string        `json:"last_outcome"`
	NextRun     time.Time     `json:"next_run,omitempty"`
}

// Scheduler runs a periodic token refresh on a cron schedule plus one
// immediate run at startup.
type Scheduler struct {
	refresher TokenRefresher
	interval  time.Duration
	logger    logging.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu          sync.Mutex
	started     bool
	lastRun     time.Time
	lastOutcome string
}

// New builds a Scheduler. Interval must be positive.
func New(refresher TokenRefresher, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %v", interval)
	}
	return &Scheduler{
		refresher:   refresher,
		interval:    interval,
		logger:      logging.GetGlobalLogger().WithFields(logging.String("component", "scheduler")),
		cron:        cron.New(),
		lastOutcome: OutcomeNever,
	}, nil
}

// Start arms the cron schedule and kicks off an immediate refresh in the
// background. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.runOnce() })
	if err != nil {
		return fmt.Errorf("failed to schedule token refresh: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.started = true

	s.logger.Info("Token refresh scheduler started",
		logging.Duration("interval", s.interval),
	)

	// A token sitting near expiry should not wait a full interval.
	go s.runOnce()
	return nil
}

// Stop disarms the schedule. Safe to call multiple times; a refresh in
// flight finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	s.logger.Info("Token refresh scheduler stopped")
}

// ForceRefresh runs the refresh job synchronously and reports whether a
// valid token was in hand afterwards.
func (s *Scheduler) ForceRefresh() bool {
	return s.runOnce() == OutcomeSuccess
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Armed:       s.started,
		Interval:    s.interval,
		LastRun:     s.lastRun,
		LastOutcome: s.lastOutcome,
	}
	if s.started {
		st.NextRun = s.cron.Entry(s.entryID).Next
	}
	return st
}

// runOnce performs one refresh pass and records the outcome.
func (s *Scheduler) runOnce() string {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	outcome := OutcomeSuccess
	if !s.refresher.IsAuthenticated(ctx) {
		outcome = OutcomeSkipped
		s.logger.Debug("Skipping token refresh, no token stored")
	} else if _, err := s.refresher.GetValidAccessToken(ctx); err != nil {
		outcome = OutcomeFailure
		s.logger.Error("Background token refresh failed", err)
	} else {
		s.logger.Debug("Background token refresh pass completed")
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastOutcome = outcome
	s.mu.Unlock()
	return outcome
}
