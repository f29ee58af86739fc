package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *domain.PlatformInvoice) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO platform_invoices (
			id, subscription_id, practitioner_id, invoice_number, subtotal_amount,
			tax_amount, total_amount, currency, status, invoice_date, paid_at,
			external_invoice_id, hosted_invoice_url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_invoice_id) DO NOTHING`,
		invoice.ID,
		invoice.SubscriptionID,
		invoice.PractitionerID,
		invoice.InvoiceNumber,
		invoice.SubtotalAmount,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.Currency,
		invoice.Status,
		invoice.InvoiceDate,
		invoice.PaidAt,
		invoice.ExternalInvoiceID,
		invoice.HostedInvoiceURL,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, externalInvoiceID string, paidAt time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE platform_invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE external_invoice_id = ? AND status <> ?`,
		domain.StatusPaid,
		paidAt,
		updatedAt,
		externalInvoiceID,
		domain.StatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalInvoiceID string) (*domain.PlatformInvoice, error) {
	var item domain.PlatformInvoice
	err := db.WithContext(ctx).Where("external_invoice_id = ?", externalInvoiceID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PlatformInvoice, error) {
	var items []domain.PlatformInvoice
	stmt := db.WithContext(ctx).Model(&domain.PlatformInvoice{}).
		Where("practitioner_id = ?", filter.PractitionerID)
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
