// Package scheduler provides cron-based background maintenance for assist.
//
// It periodically re-verifies the stored auth token and writes a daily stats
// snapshot to the log.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/store"
	"github.com/robfig/cron/v3"
)

// Cron expressions for the maintenance jobs.
const (
	// TokenVerifyCron re-verifies the stored auth token hourly.
	TokenVerifyCron = "0 * * * *"
	// StatsSnapshotCron logs a stats snapshot daily at midnight.
	StatsSnapshotCron = "0 0 * * *"
)

// AuthVerifier is the subset of the auth coordinator the scheduler needs.
type AuthVerifier interface {
	Status(ctx context.Context) models.AuthStatus
}

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

// RegisterMaintenance wires the standard maintenance jobs: hourly token
// re-verification and a daily stats snapshot. The verifier clears stale
// tokens itself; the job only triggers the check.
func (s *Scheduler) RegisterMaintenance(verifier AuthVerifier, persist store.Store) error {
	if err := s.AddJob(TokenVerifyCron, func() {
		status := verifier.Status(context.Background())
		slog.Debug("Scheduler: token re-verification ran", "state", status.State)
	}); err != nil {
		return err
	}

	return s.AddJob(StatsSnapshotCron, func() {
		stats, err := persist.GetStats()
		if err != nil {
			slog.Warn("Scheduler: stats snapshot failed", "error", err)
			return
		}
		slog.Info("Scheduler: daily stats snapshot",
			"messages_processed", stats[models.StatMessagesProcessed],
			"corrections_made", stats[models.StatCorrectionsMade],
			"auto_replies_sent", stats[models.StatAutoRepliesSent])
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
