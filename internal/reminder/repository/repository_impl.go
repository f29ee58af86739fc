package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO reminder_queue (
			id, invoice_id, practitioner_id, offset_days, scheduled_for,
			sent, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, FALSE, 0, ?, ?)
		ON CONFLICT (invoice_id, offset_days) DO NOTHING`,
		entry.ID,
		entry.InvoiceID,
		entry.PractitionerID,
		entry.OffsetDays,
		entry.ScheduledFor,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) ([]domain.Entry, error) {
	var items []domain.Entry
	stmt := db.WithContext(ctx).
		Where("sent = ?", false).
		Where("scheduled_for <= ?", cutoff).
		Where("(lease_expires_at IS NULL OR lease_expires_at < ?)", now).
		Order("scheduled_for asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Claim leases one entry to workerID. RowsAffected tells the single winner apart.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE reminder_queue
		 SET claimed_by = ?, lease_expires_at = ?, updated_at = ?
		 WHERE id = ?
		   AND sent = FALSE
		   AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		workerID,
		leaseUntil,
		now,
		id,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, sentAt time.Time, detail *string) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE reminder_queue
		 SET sent = TRUE, sent_at = ?, error_detail = ?, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND claimed_by = ?`,
		sentAt,
		detail,
		sentAt,
		id,
		workerID,
	)
	return leaseResult(res)
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, detail string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE reminder_queue
		 SET error_detail = ?, attempts = attempts + 1, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND claimed_by = ?`,
		detail,
		now,
		id,
		workerID,
	)
	return leaseResult(res)
}

func leaseResult(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Entry, error) {
	var items []domain.Entry
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("offset_days asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
