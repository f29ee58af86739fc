package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, msg *domain.Message) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO outbox_messages (id, topic, payload, status, attempts, available_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.Topic,
		msg.Payload,
		msg.Status,
		msg.Attempts,
		msg.AvailableAt,
		msg.CreatedAt,
	).Error
}

func (r *repo) ListClaimable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Message, error) {
	var items []domain.Message
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Where("available_at <= ?", now).
		Where("(lease_expires_at IS NULL OR lease_expires_at < ?)", now).
		Order("available_at asc, id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim leases one message to workerID. Only one concurrent caller can win.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET claimed_by = ?, lease_expires_at = ?, attempts = attempts + 1
		 WHERE id = ?
		   AND status = ?
		   AND available_at <= ?
		   AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		workerID,
		leaseUntil,
		id,
		domain.StatusPending,
		now,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, sentAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, sent_at = ?, claimed_by = NULL, lease_expires_at = NULL, last_error = NULL
		 WHERE id = ? AND claimed_by = ?`,
		domain.StatusSent,
		sentAt,
		id,
		workerID,
	).Error
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, availableAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET available_at = ?, last_error = ?, claimed_by = NULL, lease_expires_at = NULL
		 WHERE id = ? AND claimed_by = ?`,
		availableAt,
		lastError,
		id,
		workerID,
	).Error
}

func (r *repo) MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, last_error = ?, claimed_by = NULL, lease_expires_at = NULL
		 WHERE id = ? AND claimed_by = ?`,
		domain.StatusDead,
		lastError,
		id,
		workerID,
	).Error
}
