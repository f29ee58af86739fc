package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, account_id, payload,
			event_created_at, received_at, processed_at, attempts, locked_until, last_error
		 FROM webhook_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, account_id, payload,
			event_created_at, received_at, processed_at, attempts, locked_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.AccountID,
		event.Payload,
		event.EventCreatedAt,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Attempts,
		event.LockedUntil,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimEvent takes the dispatch lock on an unprocessed event whose previous lock expired.
func (r *repo) ClaimEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time, lockedUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET locked_until = ?, attempts = attempts + 1
		 WHERE id = ?
		   AND processed_at IS NULL
		   AND (locked_until IS NULL OR locked_until < ?)`,
		lockedUntil,
		id,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, locked_until = NULL, last_error = NULL
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET last_error = ?, locked_until = NULL
		 WHERE id = ? AND processed_at IS NULL`,
		lastError,
		id,
	).Error
}

func (r *repo) ListUnprocessed(ctx context.Context, db *gorm.DB, provider string, receivedBefore time.Time, limit int) ([]domain.EventRecord, error) {
	var items []domain.EventRecord
	stmt := db.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("processed_at IS NULL").
		Where("received_at <= ?", receivedBefore)
	if provider != "" {
		stmt = stmt.Where("provider = ?", provider)
	}
	stmt = stmt.Order("received_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
