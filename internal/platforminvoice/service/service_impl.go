package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/invoicenumber"
	"github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNumberAttempts = 3

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	Numbers         *invoicenumber.Generator
	SubscriptionSvc subscriptiondomain.Service
	HistorySvc      historydomain.Service
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	numbers         *invoicenumber.Generator
	subscriptionSvc subscriptiondomain.Service
	historySvc      historydomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("platforminvoice.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		numbers:         p.Numbers,
		subscriptionSvc: p.SubscriptionSvc,
		historySvc:      p.HistorySvc,
	}
}

func (s *Service) RecordPaid(ctx context.Context, input domain.RecordPaidInput) (domain.RecordPaidResult, error) {
	input.ExternalInvoiceID = strings.TrimSpace(input.ExternalInvoiceID)
	if input.ExternalInvoiceID == "" {
		return domain.RecordPaidResult{}, domain.ErrInvalidInvoice
	}

	now := s.clock.Now()
	if input.InvoiceDate.IsZero() {
		input.InvoiceDate = now
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = now
	}
	paidAt := input.PaidAt.UTC()

	var result domain.RecordPaidResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionSvc.FindByExternalID(ctx, tx, input.ExternalSubscriptionID)
		if err != nil {
			return err
		}

		existing, err := s.repo.FindByExternalID(ctx, tx, input.ExternalInvoiceID)
		if err != nil {
			return err
		}

		invoice := &domain.PlatformInvoice{
			ID:                s.genID.Generate(),
			SubscriptionID:    &sub.ID,
			PractitionerID:    sub.PractitionerID,
			SubtotalAmount:    input.SubtotalAmount,
			TaxAmount:         input.TaxAmount,
			TotalAmount:       input.SubtotalAmount + input.TaxAmount,
			Currency:          strings.ToUpper(strings.TrimSpace(input.Currency)),
			Status:            domain.StatusPaid,
			InvoiceDate:       input.InvoiceDate.UTC(),
			PaidAt:            &paidAt,
			ExternalInvoiceID: input.ExternalInvoiceID,
			HostedInvoiceURL:  optionalString(input.HostedInvoiceURL),
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		// Redeliveries skip number allocation so the sequence stays gapless.
		inserted := false
		if existing == nil {
			inserted, err = s.insertWithNumber(ctx, tx, invoice)
			if err != nil {
				return err
			}
		}

		changed := false
		if !inserted {
			changed, err = s.repo.MarkPaid(ctx, tx, input.ExternalInvoiceID, paidAt, now)
			if err != nil {
				return err
			}
			invoice, err = s.repo.FindByExternalID(ctx, tx, input.ExternalInvoiceID)
			if err != nil {
				return err
			}
		}
		result = domain.RecordPaidResult{Invoice: invoice, Inserted: inserted, Changed: changed}
		if !inserted && !changed {
			return nil
		}

		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: invoice.PractitionerID,
			EventType:      historydomain.EventPlatformInvoicePaid,
			SubscriptionID: invoice.SubscriptionID,
			InvoiceID:      &invoice.ID,
			InvoiceKind:    historydomain.InvoiceKindPlatform,
			SourceEventID:  input.EventID,
			Metadata: map[string]any{
				"invoice_number":      invoice.InvoiceNumber,
				"external_invoice_id": invoice.ExternalInvoiceID,
				"total_amount":        invoice.TotalAmount,
				"currency":            invoice.Currency,
			},
		})
	})
	if err != nil {
		return domain.RecordPaidResult{}, err
	}
	return result, nil
}

// insertWithNumber assigns a fresh number and inserts the invoice. Each insert
// runs in a savepoint so a number collision only rolls back that attempt while
// the consumed sequence value stays burned.
func (s *Service) insertWithNumber(ctx context.Context, tx *gorm.DB, invoice *domain.PlatformInvoice) (bool, error) {
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := s.numbers.Next(ctx, tx, invoicenumber.ScopePlatform, invoice.InvoiceDate)
		if err != nil {
			return false, err
		}
		invoice.InvoiceNumber = number

		var inserted bool
		err = tx.Transaction(func(sp *gorm.DB) error {
			var insertErr error
			inserted, insertErr = s.repo.InsertIfAbsent(ctx, sp, invoice)
			return insertErr
		})
		if err == nil {
			return inserted, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return false, err
		}
		s.log.Warn("invoice number collision, retrying",
			zap.String("invoice_number", number),
			zap.Int("attempt", attempt),
			zap.String("constraint", db.ConstraintName(err)),
		)
	}
	return false, fmt.Errorf("%w: %s", domain.ErrNumberExhausted, invoice.ExternalInvoiceID)
}

func (s *Service) RecordPaymentFailed(ctx context.Context, input domain.RecordPaymentFailedInput) error {
	if strings.TrimSpace(input.ExternalSubscriptionID) == "" {
		return domain.ErrInvalidInvoice
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err := s.subscriptionSvc.MarkPastDue(ctx, tx, subscriptiondomain.MarkPastDueInput{
			ExternalSubscriptionID: input.ExternalSubscriptionID,
			EventID:                input.EventID,
			EventAt:                input.EventAt,
		})
		if err != nil {
			return err
		}

		sub := result.Subscription
		metadata := map[string]any{
			"external_invoice_id": input.ExternalInvoiceID,
			"attempt_count":       input.AttemptCount,
			"amount_due":          input.AmountDue,
			"currency":            strings.ToUpper(strings.TrimSpace(input.Currency)),
			"previous_status":     string(result.PreviousStatus),
			"subscription_status": string(sub.Status),
		}
		if result.Stale {
			metadata["stale"] = true
		}

		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: sub.PractitionerID,
			EventType:      historydomain.EventPlatformInvoicePaymentFail,
			SubscriptionID: &sub.ID,
			InvoiceKind:    historydomain.InvoiceKindPlatform,
			SourceEventID:  input.EventID,
			Metadata:       metadata,
		})
	})
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.PractitionerID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidPractitioner
	}

	filter := domain.ListFilter{PractitionerID: req.PractitionerID, Limit: req.Limit()}
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
	rows, pageInfo, err := pagination.Trim(rows, filter.Limit, func(row domain.PlatformInvoice) pagination.Cursor {
		return pagination.Cursor{ID: row.ID.Int64(), CreatedAt: row.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	return domain.ListResponse{PageInfo: pageInfo, Invoices: rows}, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

