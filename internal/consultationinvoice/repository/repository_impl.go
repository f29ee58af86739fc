package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.ConsultationInvoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consultation_invoices (
			id, practitioner_id, invoice_number, consultation_id, recipient_id,
			recipient_name, recipient_email, description, amount, currency, status,
			issued_at, due_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.PractitionerID,
		invoice.InvoiceNumber,
		invoice.ConsultationID,
		invoice.RecipientID,
		invoice.RecipientName,
		invoice.RecipientEmail,
		invoice.Description,
		invoice.Amount,
		invoice.Currency,
		invoice.Status,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ConsultationInvoice, error) {
	var item domain.ConsultationInvoice
	err := db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ConsultationInvoice, error) {
	var item domain.ConsultationInvoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) ExistsActiveForConsultation(ctx context.Context, db *gorm.DB, consultationID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.ConsultationInvoice{}).
		Where("consultation_id = ? AND status <> ?", consultationID, domain.StatusCancelled).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Update writes the mutable lifecycle fields. Amount and recipient are not part of it.
func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *domain.ConsultationInvoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE consultation_invoices
		 SET status = ?, issued_at = ?, due_at = ?, paid_at = ?, cancelled_at = ?, overdue_at = ?,
		     external_payment_id = ?, checkout_session_id = ?, checkout_url = ?, updated_at = ?
		 WHERE id = ?`,
		invoice.Status,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.PaidAt,
		invoice.CancelledAt,
		invoice.OverdueAt,
		invoice.ExternalPaymentID,
		invoice.CheckoutSessionID,
		invoice.CheckoutURL,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) UpdateDraftAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, description string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE consultation_invoices
		 SET amount = ?, description = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		amount,
		description,
		updatedAt,
		id,
		domain.StatusDraft,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.ConsultationInvoice, error) {
	var items []domain.ConsultationInvoice
	err := db.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", domain.StatusIssued, now).
		Order("due_at asc, id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.ConsultationInvoice, error) {
	var items []domain.ConsultationInvoice
	stmt := db.WithContext(ctx).Model(&domain.ConsultationInvoice{}).
		Where("practitioner_id = ?", filter.PractitionerID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CursorAt != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			*filter.CursorAt,
			*filter.CursorAt,
			filter.CursorID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func notFoundAsNil[T any](item *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}
