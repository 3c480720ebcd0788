/**
 * @description
 * Cron scheduler wiring for the billing sweep and outbox drain jobs.
 */

package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/muhabbasim/salla-saas-billing-process/internal/config"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sweep      *Sweep
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(sweep *Sweep, dispatcher *Dispatcher, logger *slog.Logger) *Jobs {
	return &Jobs{sweep: sweep, dispatcher: dispatcher, logger: logger}
}

// RunBillingSweep executes one billing pass.
func (j *Jobs) RunBillingSweep() {
	j.logger.Info("starting billing sweep job")
	ctx := context.Background()

	summary, err := j.sweep.Run(ctx)
	if err != nil {
		j.logger.Error("billing sweep failed", "error", err)
		return
	}

	j.logger.Info("billing sweep job finished",
		"due", summary.Due,
		"invoiced", summary.Invoiced,
		"failed", len(summary.Failures),
	)
}

// DrainOutbox delivers pending billing notifications.
func (j *Jobs) DrainOutbox() {
	ctx := context.Background()

	sent, failed, err := j.dispatcher.Drain(ctx)
	if err != nil {
		j.logger.Error("outbox drain failed", "error", err)
		return
	}

	if sent > 0 || failed > 0 {
		j.logger.Info("outbox drain finished", "sent", sent, "failed", failed)
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.BillingSweepSchedule, s.jobs.RunBillingSweep); err != nil {
		s.logger.Error("failed to schedule billing sweep job", "error", err)
	} else {
		s.logger.Info("scheduled billing sweep job", "schedule", s.config.BillingSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.OutboxDrainSchedule, s.jobs.DrainOutbox); err != nil {
		s.logger.Error("failed to schedule outbox drain job", "error", err)
	} else {
		s.logger.Info("scheduled outbox drain job", "schedule", s.config.OutboxDrainSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
