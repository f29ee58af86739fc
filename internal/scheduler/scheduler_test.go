package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	"github.com/smallbiznis/clinicledger/internal/clock"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	obsmetrics "github.com/smallbiznis/clinicledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvoiceSvc struct {
	invoicedomain.Service
	calls int
	limit int
	err   error
}

func (f *fakeInvoiceSvc) MarkOverdue(_ context.Context, _ time.Time, limit int) (invoicedomain.OverdueSummary, error) {
	f.calls++
	f.limit = limit
	return invoicedomain.OverdueSummary{Marked: 2}, f.err
}

type fakeOutboxSvc struct {
	outboxdomain.Service
	calls int
	limit int
}

func (f *fakeOutboxSvc) Drain(_ context.Context, limit int) (outboxdomain.DrainSummary, error) {
	f.calls++
	f.limit = limit
	return outboxdomain.DrainSummary{Processed: 3, Sent: 3}, nil
}

type fakeReminderSvc struct {
	reminderdomain.Service
	calls int
}

func (f *fakeReminderSvc) Process(context.Context) (reminderdomain.Summary, error) {
	f.calls++
	return reminderdomain.Summary{Processed: 1, Successful: 1}, nil
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string, string) error {
	return authorization.ErrForbidden
}

func newTestScheduler(t *testing.T, authz authorization.Service, cfg Config) (*Scheduler, *fakeInvoiceSvc, *fakeOutboxSvc, *fakeReminderSvc) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	invoices := &fakeInvoiceSvc{}
	outbox := &fakeOutboxSvc{}
	reminders := &fakeReminderSvc{}
	s, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)),
		ReminderSvc: reminders,
		InvoiceSvc:  invoices,
		OutboxSvc:   outbox,
		AuthzSvc:    authz,
		Config:      cfg,
	})
	require.NoError(t, err)
	return s, invoices, outbox, reminders
}

func realAuthz(t *testing.T) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)
	return authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRunOnceRunsIntervalJobs(t *testing.T) {
	s, invoices, outbox, reminders := newTestScheduler(t, realAuthz(t), Config{OverdueBatch: 25, OutboxBatchSize: 10})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, invoices.calls)
	assert.Equal(t, 25, invoices.limit)
	assert.Equal(t, 1, outbox.calls)
	assert.Equal(t, 10, outbox.limit)
	assert.Zero(t, reminders.calls, "reminders run on the cron entry only")
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	s, invoices, outbox, _ := newTestScheduler(t, realAuthz(t), Config{EnabledJobs: []string{"OUTBOX_DRAIN"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, invoices.calls)
	assert.Equal(t, 1, outbox.calls)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	s, invoices, outbox, _ := newTestScheduler(t, realAuthz(t), Config{})
	invoices.err = errors.New("boom")

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobOverdueSweep)
	assert.Equal(t, 1, outbox.calls, "one failing job must not stop the others")
}

func TestJobsRequireAuthorization(t *testing.T) {
	s, invoices, outbox, reminders := newTestScheduler(t, denyAll{}, Config{})

	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, authorization.ErrForbidden)
	require.ErrorIs(t, s.RunReminders(context.Background()), authorization.ErrForbidden)
	assert.Zero(t, invoices.calls)
	assert.Zero(t, outbox.calls)
	assert.Zero(t, reminders.calls)
}

func TestRunRemindersWithoutLockerProcesses(t *testing.T) {
	s, _, _, reminders := newTestScheduler(t, realAuthz(t), Config{})

	require.NoError(t, s.RunReminders(context.Background()))
	assert.Equal(t, 1, reminders.calls)
}

func TestNewRejectsInvalidCron(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	_, err = New(Params{Log: zap.NewNop(), GenID: node, Clock: clock.SystemClock{}, Config: Config{ReminderCron: "every morning"}})
	require.Error(t, err)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "clinicledger",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "clinicledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "clinicledger_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "clinicledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "clinicledger_scheduler_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
