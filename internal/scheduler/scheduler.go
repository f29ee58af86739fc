package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	"github.com/smallbiznis/clinicledger/internal/clock"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"github.com/smallbiznis/clinicledger/internal/distlock"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/clinicledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobOverdueSweep  = "overdue_sweep"
	JobOutboxDrain   = "outbox_drain"
	JobReminderSweep = "reminder_sweep"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	ReminderSvc reminderdomain.Service
	InvoiceSvc  invoicedomain.Service
	OutboxSvc   outboxdomain.Service
	AuthzSvc    authorization.Service
	Locker      *distlock.Locker `optional:"true"`
	Config      Config           `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	reminderSvc reminderdomain.Service
	invoiceSvc  invoicedomain.Service
	outboxSvc   outboxdomain.Service
	authzSvc    authorization.Service
	locker      *distlock.Locker
	cron        *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.ReminderCron); err != nil {
		return nil, fmt.Errorf("invalid reminder cron %q: %w", cfg.ReminderCron, err)
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler"),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		reminderSvc: p.ReminderSvc,
		invoiceSvc:  p.InvoiceSvc,
		outboxSvc:   p.OutboxSvc,
		authzSvc:    p.AuthzSvc,
		locker:      p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, authorization.ActorScheduler, name)
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs the interval jobs a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobOverdueSweep, s.isJobEnabled(JobOverdueSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobOverdueSweep, s.cfg.OverdueBatch, s.cfg.JobTimeout, s.OverdueSweepJob)
		}},
		{JobOutboxDrain, s.isJobEnabled(JobOutboxDrain), func(ctx context.Context) error {
			return s.runJob(ctx, JobOutboxDrain, s.cfg.OutboxBatchSize, s.cfg.JobTimeout, s.OutboxDrainJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}


func (s *Scheduler) RunForever(ctx context.Context) {
	if s.isJobEnabled(JobReminderSweep) {
		if err := s.startCron(ctx); err != nil {
			s.log.Error("reminder cron not started", zap.Error(err))
		} else {
			defer func() { <-s.cron.Stop().Done() }()
		}
	}

	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}


func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if err := s.authorizeSystem(ctx, authorization.ObjectConsultationInvoices, authorization.ActionInvoicesOverdue); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize", JobOverdueSweep, err)
		return err
	}

	summary, err := s.invoiceSvc.MarkOverdue(ctx, time.Time{}, s.cfg.OverdueBatch)
	run.AddProcessed(summary.Marked)
	obsmetrics.Scheduler().AddBatchProcessed(JobOverdueSweep, "consultation_invoice", summary.Marked)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.overdue.failed", JobOverdueSweep, err)
		return err
	}
	return nil
}

func (s *Scheduler) OutboxDrainJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if err := s.authorizeSystem(ctx, authorization.ObjectOutbox, authorization.ActionOutboxDrain); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize", JobOutboxDrain, err)
		return err
	}

	summary, err := s.outboxSvc.Drain(ctx, s.cfg.OutboxBatchSize)
	schedMetrics := obsmetrics.Scheduler()
	run.AddProcessed(summary.Processed)
	schedMetrics.AddBatchProcessed(JobOutboxDrain, "outbox_message", summary.Sent)
	schedMetrics.AddBatchDeferred(JobOutboxDrain, obsmetrics.SchedulerBatchDeferredReasonHandlerError, summary.Failed+summary.Dead)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.outbox.failed", JobOutboxDrain, err)
		return err
	}
	return nil
}


func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, authorization.ActorScheduler, object, action)
}
