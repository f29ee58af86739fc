package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	obsmetrics "github.com/smallbiznis/clinicledger/internal/observability/metrics"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"go.uber.org/zap"
)

// RunReminders runs the reminder sweep once, as the cron entry does.
func (s *Scheduler) RunReminders(parent context.Context) error {
	return s.runJob(parent, JobReminderSweep, 0, s.cfg.ReminderLockTTL, s.ReminderSweepJob)
}

func (s *Scheduler) startCron(ctx context.Context) error {
	s.cron = cron.New(cron.WithLocation(time.UTC))
	_, err := s.cron.AddFunc(s.cfg.ReminderCron, func() {
		if err := s.RunReminders(ctx); err != nil {
			s.log.Warn("reminder sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("reminder cron started", zap.String("schedule", s.cfg.ReminderCron))
	return nil
}

// ReminderSweepJob processes due reminders. Across replicas only the holder of
// the sweep lock runs it; row leases still keep two sweeps from sending twice.
func (s *Scheduler) ReminderSweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if err := s.authorizeSystem(ctx, authorization.ObjectReminders, authorization.ActionRemindersProcess); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize", JobReminderSweep, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var summary reminderdomain.Summary
	acquired, err := s.locker.Do(ctx, JobReminderSweep, s.cfg.ReminderLockTTL, func(ctx context.Context) error {
		var procErr error
		summary, procErr = s.reminderSvc.Process(ctx)
		return procErr
	})
	if !acquired && err == nil {
		schedMetrics.AddBatchDeferred(JobReminderSweep, obsmetrics.SchedulerBatchDeferredReasonLockHeld, 1)
		s.logger(ctx).Info("scheduler.reminders.skipped", zap.String("reason", "lock_held"))
		return nil
	}

	run.AddProcessed(summary.Processed)
	schedMetrics.AddBatchProcessed(JobReminderSweep, "reminder", summary.Successful)
	schedMetrics.AddBatchDeferred(JobReminderSweep, obsmetrics.SchedulerBatchDeferredReasonSendFailed, summary.Failed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reminders.failed", JobReminderSweep, err,
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
		)
		return err
	}
	return nil
}
