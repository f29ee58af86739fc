package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"github.com/smallbiznis/clinicledger/internal/invoicenumber"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	paymentprovider "github.com/smallbiznis/clinicledger/internal/providers/payment"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxNumberAttempts = 3
	defaultDueInDays  = 30
)

var errAlreadyInvoiced = errors.New("consultation_already_invoiced")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Numbers     *invoicenumber.Generator
	SettingsSvc settingsdomain.Service
	HistorySvc  historydomain.Service
	ReminderSvc reminderdomain.Service
	OutboxSvc   outboxdomain.Service
	Processor   paymentprovider.Processor
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	numbers     *invoicenumber.Generator
	settingsSvc settingsdomain.Service
	historySvc  historydomain.Service
	reminderSvc reminderdomain.Service
	outboxSvc   outboxdomain.Service
	processor   paymentprovider.Processor
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("consultationinvoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		numbers:     p.Numbers,
		settingsSvc: p.SettingsSvc,
		historySvc:  p.HistorySvc,
		reminderSvc: p.ReminderSvc,
		outboxSvc:   p.OutboxSvc,
		processor:   p.Processor,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	if req.PractitionerID == 0 {
		return domain.CreateResult{}, domain.ErrInvalidPractitioner
	}
	if len(req.Candidates) == 0 {
		return domain.CreateResult{}, domain.ErrInvalidInvoice
	}
	for _, candidate := range req.Candidates {
		if candidate.Amount <= 0 {
			return domain.CreateResult{}, domain.ErrInvalidAmount
		}
		if len(strings.TrimSpace(candidate.Currency)) != 3 {
			return domain.CreateResult{}, domain.ErrInvalidCurrency
		}
	}

	result := domain.CreateResult{
		Created: []domain.ConsultationInvoice{},
		Skipped: []domain.Skipped{},
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, candidate := range req.Candidates {
			invoice, reason, err := s.buildInvoice(ctx, tx, req, candidate)
			if err != nil {
				return err
			}
			if reason == "" {
				err = s.insertWithNumber(ctx, tx, invoice)
				if errors.Is(err, errAlreadyInvoiced) {
					reason = domain.SkipAlreadyInvoiced
				} else if err != nil {
					return err
				}
			}
			if reason != "" {
				result.Skipped = append(result.Skipped, domain.Skipped{
					ConsultationID: strings.TrimSpace(candidate.ConsultationID),
					Name:           strings.TrimSpace(candidate.RecipientName),
					Reason:         reason,
				})
				continue
			}

			if invoice.Status == domain.StatusIssued {
				if err := s.afterIssue(ctx, tx, invoice); err != nil {
					return err
				}
			}
			result.Created = append(result.Created, *invoice)
		}
		return nil
	})
	if err != nil {
		return domain.CreateResult{}, err
	}

	s.log.Info("consultation invoices created",
		zap.String("practitioner_id", req.PractitionerID.String()),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// buildInvoice returns the invoice to insert, or a skip reason when the
// candidate cannot be billed.
func (s *Service) buildInvoice(ctx context.Context, tx *gorm.DB, req domain.CreateRequest, candidate domain.Candidate) (*domain.ConsultationInvoice, string, error) {
	rawRecipient := strings.TrimSpace(candidate.RecipientID)
	if rawRecipient == "" {
		return nil, domain.SkipMissingRecipient, nil
	}
	recipientID, err := snowflake.ParseString(rawRecipient)
	if err != nil || recipientID == 0 {
		return nil, domain.SkipMissingRecipient, nil
	}
	// A recipient without an address cannot be reminded.
	email := strings.TrimSpace(candidate.RecipientEmail)
	if email == "" {
		return nil, domain.SkipMissingRecipient, nil
	}

	var consultationID *snowflake.ID
	if raw := strings.TrimSpace(candidate.ConsultationID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return nil, "", fmt.Errorf("%w: consultation_id %q", domain.ErrInvalidInvoice, raw)
		}
		exists, err := s.repo.ExistsActiveForConsultation(ctx, tx, id)
		if err != nil {
			return nil, "", err
		}
		if exists {
			return nil, domain.SkipAlreadyInvoiced, nil
		}
		consultationID = &id
	}

	now := s.clock.Now()
	invoice := &domain.ConsultationInvoice{
		ID:             s.genID.Generate(),
		PractitionerID: req.PractitionerID,
		ConsultationID: consultationID,
		RecipientID:    recipientID,
		RecipientName:  strings.TrimSpace(candidate.RecipientName),
		RecipientEmail: email,
		Description:    strings.TrimSpace(candidate.Description),
		Amount:         candidate.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(candidate.Currency)),
		Status:         domain.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Issue {
		applyIssue(invoice, now, req.DueInDays)
	}
	return invoice, "", nil
}

func applyIssue(invoice *domain.ConsultationInvoice, now time.Time, dueInDays int) {
	if dueInDays <= 0 {
		dueInDays = defaultDueInDays
	}
	issuedAt := now
	dueAt := clock.EndOfDay(now.AddDate(0, 0, dueInDays))
	invoice.Status = domain.StatusIssued
	invoice.IssuedAt = &issuedAt
	invoice.DueAt = &dueAt
	invoice.UpdatedAt = now
}

// insertWithNumber numbers and inserts one invoice inside a savepoint. A
// collision on the consultation index means another request billed it first.
func (s *Service) insertWithNumber(ctx context.Context, tx *gorm.DB, invoice *domain.ConsultationInvoice) error {
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := s.numbers.Next(ctx, tx, invoicenumber.ScopeConsultation, invoice.CreatedAt)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.Insert(ctx, sp, invoice)
		})
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		constraint := db.ConstraintName(err)
		if strings.Contains(constraint, "consultation_id") || constraint == "ux_consultation_invoices_consultation" {
			return errAlreadyInvoiced
		}
		s.log.Warn("invoice number collision, retrying",
			zap.String("invoice_number", number),
			zap.Int("attempt", attempt),
			zap.String("constraint", constraint),
		)
	}
	return fmt.Errorf("%w: %s", domain.ErrNumberExhausted, invoice.ID)
}

// afterIssue queues reminders and records the issue in the caller's transaction.
func (s *Service) afterIssue(ctx context.Context, tx *gorm.DB, invoice *domain.ConsultationInvoice) error {
	scheduled, err := s.reminderSvc.Schedule(ctx, tx, reminderdomain.ScheduleInput{
		InvoiceID:      invoice.ID,
		PractitionerID: invoice.PractitionerID,
		IssuedAt:       *invoice.IssuedAt,
	})
	if err != nil {
		return err
	}
	return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
		PractitionerID: invoice.PractitionerID,
		EventType:      historydomain.EventConsultationIssued,
		InvoiceID:      &invoice.ID,
		InvoiceKind:    historydomain.InvoiceKindConsultation,
		Metadata: map[string]any{
			"invoice_number":      invoice.InvoiceNumber,
			"amount":              invoice.Amount,
			"currency":            invoice.Currency,
			"due_at":              invoice.DueAt.UTC().Format(time.RFC3339),
			"reminders_scheduled": scheduled,
		},
	})
}

func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (*domain.ConsultationInvoice, error) {
	if req.PractitionerID == 0 {
		return nil, domain.ErrInvalidPractitioner
	}

	var invoice *domain.ConsultationInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lockOwned(ctx, tx, req.PractitionerID, req.ID)
		if err != nil {
			return err
		}
		if invoice.Status != domain.StatusDraft {
			return domain.ErrNotDraft
		}

		applyIssue(invoice, s.clock.Now(), req.DueInDays)
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.afterIssue(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) UpdateDraft(ctx context.Context, req domain.UpdateDraftRequest) (*domain.ConsultationInvoice, error) {
	if req.PractitionerID == 0 {
		return nil, domain.ErrInvalidPractitioner
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var invoice *domain.ConsultationInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockOwned(ctx, tx, req.PractitionerID, req.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusDraft {
			return domain.ErrNotDraft
		}

		amount := current.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		description := current.Description
		if req.Description != nil {
			description = strings.TrimSpace(*req.Description)
		}

		updated, err := s.repo.UpdateDraftAmount(ctx, tx, current.ID, amount, description, s.clock.Now())
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrNotDraft
		}
		invoice, err = s.repo.FindByID(ctx, tx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Cancel(ctx context.Context, practitionerID, id snowflake.ID) (*domain.ConsultationInvoice, error) {
	if practitionerID == 0 {
		return nil, domain.ErrInvalidPractitioner
	}

	var invoice *domain.ConsultationInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lockOwned(ctx, tx, practitionerID, id)
		if err != nil {
			return err
		}
		previous := invoice.Status
		if !domain.CanTransition(previous, domain.StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, previous, domain.StatusCancelled)
		}

		now := s.clock.Now()
		invoice.Status = domain.StatusCancelled
		invoice.CancelledAt = &now
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: invoice.PractitionerID,
			EventType:      historydomain.EventConsultationCancelled,
			InvoiceID:      &invoice.ID,
			InvoiceKind:    historydomain.InvoiceKindConsultation,
			Metadata: map[string]any{
				"invoice_number":  invoice.InvoiceNumber,
				"previous_status": string(previous),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) MarkOverdue(ctx context.Context, now time.Time, limit int) (domain.OverdueSummary, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}
	if limit <= 0 {
		limit = 100
	}

	candidates, err := s.repo.ListOverdueCandidates(ctx, s.db, now, limit)
	if err != nil {
		return domain.OverdueSummary{}, err
	}

	var summary domain.OverdueSummary
	var errs []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		marked, err := s.markOverdue(ctx, candidate.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark overdue %s: %w", candidate.ID, err))
			continue
		}
		if marked {
			summary.Marked++
		}
	}

	if summary.Marked > 0 {
		s.log.Info("consultation invoices overdue", zap.Int("marked", summary.Marked))
	}
	return summary, errors.Join(errs...)
}

func (s *Service) markOverdue(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	marked := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil || invoice == nil {
			return err
		}
		// A payment or cancellation may have landed since the candidate scan.
		if invoice.Status != domain.StatusIssued || invoice.DueAt == nil || !invoice.DueAt.Before(now) {
			return nil
		}

		invoice.Status = domain.StatusOverdue
		invoice.OverdueAt = &now
		invoice.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		marked = true
		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: invoice.PractitionerID,
			EventType:      historydomain.EventConsultationOverdue,
			InvoiceID:      &invoice.ID,
			InvoiceKind:    historydomain.InvoiceKindConsultation,
			Metadata: map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"due_at":         invoice.DueAt.UTC().Format(time.RFC3339),
			},
		})
	})
	return marked, err
}

func (s *Service) MarkPaid(ctx context.Context, input domain.MarkPaidInput) (domain.MarkPaidResult, error) {
	if input.InvoiceID == 0 {
		return domain.MarkPaidResult{}, domain.ErrInvalidInvoice
	}
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	paidAt = paidAt.UTC()

	var result domain.MarkPaidResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, input.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		result.Invoice = invoice
		if invoice.Status == domain.StatusPaid {
			return nil
		}
		previous := invoice.Status
		if !domain.CanTransition(previous, domain.StatusPaid) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, previous, domain.StatusPaid)
		}

		invoice.Status = domain.StatusPaid
		invoice.PaidAt = &paidAt
		invoice.UpdatedAt = s.clock.Now()
		if id := strings.TrimSpace(input.PaymentIntentID); id != "" {
			invoice.ExternalPaymentID = &id
		}
		if id := strings.TrimSpace(input.CheckoutSessionID); id != "" {
			invoice.CheckoutSessionID = &id
		}
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		result.Changed = true

		metadata := map[string]any{
			"invoice_number":      invoice.InvoiceNumber,
			"previous_status":     string(previous),
			"amount":              invoice.Amount,
			"currency":            invoice.Currency,
			"checkout_session_id": input.CheckoutSessionID,
			"payment_intent_id":   input.PaymentIntentID,
		}
		if input.AmountTotal > 0 && input.AmountTotal != invoice.Amount {
			s.log.Warn("checkout amount differs from invoice amount",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Int64("invoice_amount", invoice.Amount),
				zap.Int64("amount_total", input.AmountTotal),
			)
			metadata["amount_total"] = input.AmountTotal
		}
		if err := s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: invoice.PractitionerID,
			EventType:      historydomain.EventConsultationPaid,
			InvoiceID:      &invoice.ID,
			InvoiceKind:    historydomain.InvoiceKindConsultation,
			SourceEventID:  input.EventID,
			Metadata:       metadata,
		}); err != nil {
			return err
		}

		settings, err := s.settingsSvc.Get(ctx, tx, invoice.PractitionerID)
		if err != nil {
			return err
		}
		confirmation := domain.PaymentConfirmation{
			InvoiceID:        invoice.ID,
			InvoiceNumber:    invoice.InvoiceNumber,
			PractitionerID:   invoice.PractitionerID,
			PractitionerName: settings.PractitionerName,
			RecipientName:    invoice.RecipientName,
			RecipientEmail:   invoice.RecipientEmail,
			Amount:           invoice.Amount,
			Currency:         invoice.Currency,
			PaidAt:           paidAt,
		}
		if settings.ReplyToEmail != nil {
			confirmation.ReplyTo = *settings.ReplyToEmail
		}
		_, err = s.outboxSvc.EnqueueTx(ctx, tx, domain.TopicPaymentConfirmation, confirmation)
		return err
	})
	if err != nil {
		return domain.MarkPaidResult{}, err
	}
	return result, nil
}

func (s *Service) RecordPaymentFailure(ctx context.Context, input domain.PaymentFailureInput) error {
	if input.InvoiceID == 0 {
		return domain.ErrInvalidInvoice
	}
	invoice, err := s.repo.FindByID(ctx, s.db, input.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return domain.ErrInvoiceNotFound
	}

	return s.historySvc.Record(ctx, historydomain.Entry{
		PractitionerID: invoice.PractitionerID,
		EventType:      historydomain.EventConsultationPaymentFail,
		InvoiceID:      &invoice.ID,
		InvoiceKind:    historydomain.InvoiceKindConsultation,
		SourceEventID:  input.EventID,
		Metadata: map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"status":         string(invoice.Status),
			"source":         input.Source,
			"external_id":    input.ExternalID,
			"reason":         input.Reason,
		},
	})
}

func (s *Service) CreateCheckoutSession(ctx context.Context, practitionerID, id snowflake.ID) (domain.CheckoutResult, error) {
	invoice, err := s.Get(ctx, practitionerID, id)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if !invoice.Payable() {
		return domain.CheckoutResult{}, domain.ErrNotPayable
	}
	settings, err := s.settingsSvc.Get(ctx, s.db, practitionerID)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if !settings.IsConnected() {
		return domain.CheckoutResult{}, domain.ErrAccountNotReady
	}

	description := invoice.Description
	if description == "" {
		description = "Consultation " + invoice.InvoiceNumber
	}
	session, err := s.processor.CreateCheckoutSession(ctx, paymentprovider.CheckoutInput{
		AccountID:      *settings.ConnectedAccountID,
		InvoiceID:      invoice.ID.String(),
		InvoiceNumber:  invoice.InvoiceNumber,
		Description:    description,
		Amount:         invoice.Amount,
		Currency:       invoice.Currency,
		CustomerEmail:  invoice.RecipientEmail,
		IdempotencyKey: fmt.Sprintf("checkout-%s-%d", invoice.ID, invoice.UpdatedAt.UnixNano()),
	})
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockOwned(ctx, tx, practitionerID, id)
		if err != nil {
			return err
		}
		if !current.Payable() {
			return domain.ErrNotPayable
		}
		current.CheckoutSessionID = &session.ID
		current.CheckoutURL = &session.URL
		current.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, tx, current)
	})
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	return domain.CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

func (s *Service) Get(ctx context.Context, practitionerID, id snowflake.ID) (*domain.ConsultationInvoice, error) {
	if practitionerID == 0 {
		return nil, domain.ErrInvalidPractitioner
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.PractitionerID != practitionerID {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.PractitionerID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidPractitioner
	}

	filter := domain.ListFilter{
		PractitionerID: req.PractitionerID,
		Status:         domain.Status(strings.TrimSpace(req.Status)),
		Limit:          req.Limit(),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		at := cursor.CreatedAt
		filter.CursorAt = &at
		filter.CursorID = snowflake.ID(cursor.ID)
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	rows, pageInfo, err := pagination.Trim(rows, filter.Limit, func(row domain.ConsultationInvoice) pagination.Cursor {
		return pagination.Cursor{ID: row.ID.Int64(), CreatedAt: row.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	return domain.ListResponse{PageInfo: pageInfo, Invoices: rows}, nil
}

func (s *Service) lockOwned(ctx context.Context, tx *gorm.DB, practitionerID, id snowflake.ID) (*domain.ConsultationInvoice, error) {
	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.PractitionerID != practitionerID {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}
