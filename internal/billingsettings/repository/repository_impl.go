package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*domain.BillingSettings, error) {
	var item domain.BillingSettings
	err := db.WithContext(ctx).Where("practitioner_id = ?", practitionerID).Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*domain.BillingSettings, error) {
	var item domain.BillingSettings
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("practitioner_id = ?", practitionerID).
		Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) FindByConnectedAccount(ctx context.Context, db *gorm.DB, accountID string) (*domain.BillingSettings, error) {
	var item domain.BillingSettings
	err := db.WithContext(ctx).Where("connected_account_id = ?", accountID).Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) UpsertReminders(ctx context.Context, db *gorm.DB, settings *domain.BillingSettings) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_settings (
			practitioner_id, practitioner_name, reply_to_email, reminders_enabled,
			reminder_offsets, reminder_templates, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (practitioner_id) DO UPDATE SET
			practitioner_name = excluded.practitioner_name,
			reply_to_email = excluded.reply_to_email,
			reminders_enabled = excluded.reminders_enabled,
			reminder_offsets = excluded.reminder_offsets,
			reminder_templates = excluded.reminder_templates,
			updated_at = excluded.updated_at`,
		settings.PractitionerID,
		settings.PractitionerName,
		settings.ReplyToEmail,
		settings.RemindersEnabled,
		settings.ReminderOffsets,
		settings.ReminderTemplates,
		settings.CreatedAt,
		settings.UpdatedAt,
	).Error
}

func (r *repo) AttachConnectedAccount(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, accountID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_settings (practitioner_id, connected_account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (practitioner_id) DO UPDATE SET
			connected_account_id = excluded.connected_account_id,
			updated_at = excluded.updated_at`,
		practitionerID,
		accountID,
		now,
		now,
	).Error
}

func (r *repo) UpdateAccountFlags(ctx context.Context, db *gorm.DB, status domain.AccountStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_settings
		 SET charges_enabled = ?, details_submitted = ?, onboarding_completed = ?, updated_at = ?
		 WHERE connected_account_id = ?`,
		status.ChargesEnabled,
		status.DetailsSubmitted,
		status.ChargesEnabled && status.DetailsSubmitted,
		now,
		status.AccountID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// StampConnected sets connected_at once. Only the first caller sees true.
func (r *repo) StampConnected(ctx context.Context, db *gorm.DB, accountID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_settings
		 SET connected_at = ?, updated_at = ?
		 WHERE connected_account_id = ?
		   AND connected_at IS NULL
		   AND charges_enabled = ?
		   AND details_submitted = ?`,
		now,
		now,
		accountID,
		true,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ClearConnectedAccount(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_settings
		 SET connected_account_id = NULL,
		     onboarding_completed = ?,
		     charges_enabled = ?,
		     details_submitted = ?,
		     updated_at = ?
		 WHERE practitioner_id = ?`,
		false,
		false,
		false,
		now,
		practitionerID,
	).Error
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
