package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/config"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"github.com/smallbiznis/clinicledger/internal/notification"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	"github.com/smallbiznis/clinicledger/internal/observability/metrics"
	"github.com/smallbiznis/clinicledger/internal/observability/tracing"
	"github.com/smallbiznis/clinicledger/internal/providers/email"
	"github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultWorkers    = 4
	defaultBatchSize  = 500
	defaultLease      = 5 * time.Minute
	maxErrorDetailLen = 1024
)

const (
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	InvoiceRepo invoicedomain.Repository
	SettingsSvc settingsdomain.Service
	HistorySvc  historydomain.Service
	Sender      email.Sender
	Templates   *config.ReminderConfigHolder
	Options     domain.Options   `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	invoiceRepo invoicedomain.Repository
	settingsSvc settingsdomain.Service
	historySvc  historydomain.Service
	sender      email.Sender
	templates   *config.ReminderConfigHolder
	opts        domain.Options
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	opts := p.Options
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("reminder.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		settingsSvc: p.SettingsSvc,
		historySvc:  p.HistorySvc,
		sender:      p.Sender,
		templates:   p.Templates,
		opts:        opts,
		metrics:     p.Metrics,
	}
}

func (s *Service) Schedule(ctx context.Context, tx *gorm.DB, input domain.ScheduleInput) (int, error) {
	if input.InvoiceID == 0 {
		return 0, domain.ErrInvalidInvoice
	}
	if input.PractitionerID == 0 {
		return 0, domain.ErrInvalidPractitioner
	}
	if input.IssuedAt.IsZero() {
		return 0, domain.ErrInvalidIssuedAt
	}
	if tx == nil {
		tx = s.db
	}

	settings, err := s.settingsSvc.Get(ctx, tx, input.PractitionerID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	issueDay := clock.StartOfDay(input.IssuedAt)
	created := 0
	for _, offset := range settings.EnabledOffsets() {
		entry := &domain.Entry{
			ID:             s.genID.Generate(),
			InvoiceID:      input.InvoiceID,
			PractitionerID: input.PractitionerID,
			OffsetDays:     offset,
			ScheduledFor:   issueDay.AddDate(0, 0, offset),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, entry)
		if err != nil {
			return created, fmt.Errorf("schedule offset %d: %w", offset, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func (s *Service) Process(ctx context.Context) (domain.Summary, error) {
	ctx = obscontext.WithActor(ctx, "system", "reminders")
	workerID := ulid.Make().String()
	cfg := s.templates.Get()
	lease := cfg.LeaseDuration
	if lease <= 0 {
		lease = defaultLease
	}

	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, s.db, clock.EndOfDay(now), now, s.opts.BatchSize)
	if err != nil {
		return domain.Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary domain.Summary
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		claimed, err := s.repo.Claim(ctx, s.db, entry.ID, workerID, now, now.Add(lease))
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", entry.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		entry := entry
		g.Go(func() error {
			outcome, err := s.deliver(ctx, workerID, cfg, entry)
			s.metrics.RecordReminder(ctx, entry.OffsetDays, outcome)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch outcome {
			case outcomeSent:
				summary.Successful++
			case outcomeSkipped:
				summary.Successful++
				summary.Skipped++
			default:
				summary.Failed++
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Processed > 0 {
		s.log.Info("reminders processed",
			zap.String("worker_id", workerID),
			zap.Int("processed", summary.Processed),
			zap.Int("successful", summary.Successful),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}
	return summary, errors.Join(errs...)
}

// deliver sends one claimed reminder. Send failures are recorded on the entry;
// only bookkeeping failures are returned.
func (s *Service) deliver(ctx context.Context, workerID string, cfg config.ReminderConfig, entry domain.Entry) (outcome string, err error) {
	ctx, span := tracing.StartSpan(ctx, "reminder.deliver",
		attribute.String("reminder.invoice_id", entry.InvoiceID.String()),
		attribute.Int("reminder.offset_days", entry.OffsetDays),
	)
	defer func() { tracing.EndSpan(span, err) }()

	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, entry.InvoiceID)
	if err != nil {
		return s.fail(ctx, workerID, entry, err)
	}
	if invoice == nil {
		return s.retire(ctx, workerID, entry, domain.DetailInvoiceMissing)
	}
	if !invoice.Payable() {
		return s.retire(ctx, workerID, entry, domain.DetailNotEligiblePrefix+string(invoice.Status))
	}

	settings, err := s.settingsSvc.Get(ctx, s.db, invoice.PractitionerID)
	if err != nil {
		return s.fail(ctx, workerID, entry, err)
	}
	if !settings.RemindersEnabled {
		return s.retire(ctx, workerID, entry, domain.DetailAutomationDisabled)
	}

	tpl, ok := customTemplate(settings, entry.OffsetDays)
	if !ok {
		tpl, ok = cfg.Templates[entry.OffsetDays]
	}
	if !ok {
		return s.fail(ctx, workerID, entry, fmt.Errorf("no reminder template for offset %d", entry.OffsetDays))
	}

	data := notification.Data{
		InvoiceNumber:    invoice.InvoiceNumber,
		PractitionerName: settings.PractitionerName,
		RecipientName:    invoice.RecipientName,
		Amount:           notification.FormatMoney(invoice.Amount, invoice.Currency),
		DueDate:          notification.FormatDate(invoice.DueAt),
		OffsetDays:       entry.OffsetDays,
	}
	if invoice.CheckoutURL != nil {
		data.PaymentURL = *invoice.CheckoutURL
	}
	rendered, err := notification.Render(tpl, data)
	if err != nil {
		return s.fail(ctx, workerID, entry, err)
	}

	msg := email.Message{
		To:      invoice.RecipientEmail,
		From:    cfg.From,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}
	if settings.ReplyToEmail != nil {
		msg.ReplyTo = *settings.ReplyToEmail
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return s.fail(ctx, workerID, entry, err)
	}

	sentAt := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.MarkSent(ctx, tx, entry.ID, workerID, sentAt, nil); err != nil {
			return err
		}
		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: invoice.PractitionerID,
			EventType:      historydomain.EventReminderSent,
			InvoiceID:      &invoice.ID,
			InvoiceKind:    historydomain.InvoiceKindConsultation,
			Metadata: map[string]any{
				"reminder_id":    entry.ID.String(),
				"offset_days":    entry.OffsetDays,
				"invoice_number": invoice.InvoiceNumber,
				"recipient":      invoice.RecipientEmail,
			},
		})
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("mark sent %s: %w", entry.ID, err)
	}
	return outcomeSent, nil
}

// retire marks the entry done without sending anything.
func (s *Service) retire(ctx context.Context, workerID string, entry domain.Entry, detail string) (string, error) {
	s.log.Debug("reminder skipped",
		zap.String("reminder_id", entry.ID.String()),
		zap.String("invoice_id", entry.InvoiceID.String()),
		zap.String("detail", detail),
	)
	if err := s.repo.MarkSent(ctx, s.db, entry.ID, workerID, s.clock.Now(), &detail); err != nil {
		return outcomeFailed, fmt.Errorf("retire %s: %w", entry.ID, err)
	}
	return outcomeSkipped, nil
}

func (s *Service) fail(ctx context.Context, workerID string, entry domain.Entry, cause error) (string, error) {
	s.log.Warn("reminder send failed",
		zap.String("reminder_id", entry.ID.String()),
		zap.String("invoice_id", entry.InvoiceID.String()),
		zap.Int("offset_days", entry.OffsetDays),
		zap.Int("attempts", entry.Attempts+1),
		zap.Error(cause),
	)
	detail := cause.Error()
	if len(detail) > maxErrorDetailLen {
		detail = detail[:maxErrorDetailLen]
	}
	if err := s.repo.MarkFailed(ctx, s.db, entry.ID, workerID, detail, s.clock.Now()); err != nil {
		return outcomeFailed, fmt.Errorf("record failure %s: %w", entry.ID, err)
	}
	return outcomeFailed, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]domain.Entry, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoice
	}
	return s.repo.ListByInvoice(ctx, s.db, invoiceID)
}

func customTemplate(settings settingsdomain.BillingSettings, offset int) (config.ReminderTemplate, bool) {
	tpl, ok := settings.TemplateFor(offset)
	if !ok {
		return config.ReminderTemplate{}, false
	}
	return config.ReminderTemplate{Subject: tpl.Subject, HTML: tpl.HTML, Text: tpl.Text}, true
}
