package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type UpdateRemindersRequest struct {
	PractitionerID   snowflake.ID
	PractitionerName *string          `json:"practitioner_name"`
	ReplyToEmail     *string          `json:"reply_to_email" validate:"omitempty,email"`
	RemindersEnabled *bool            `json:"reminders_enabled"`
	Offsets          []int            `json:"reminder_offsets" validate:"omitempty,dive,oneof=7 15 30"`
	Templates        map[int]Template `json:"reminder_templates"`
}

// AccountStatus is the processor's view of a connected account.
type AccountStatus struct {
	AccountID        string
	ChargesEnabled   bool
	DetailsSubmitted bool
}

type AccountStatusResult struct {
	Settings *BillingSettings
	// Matched is false when no practitioner owns the account.
	Matched bool
	// Onboarded is true only for the update that first stamped connected_at.
	Onboarded bool
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*BillingSettings, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*BillingSettings, error)
	FindByConnectedAccount(ctx context.Context, db *gorm.DB, accountID string) (*BillingSettings, error)
	UpsertReminders(ctx context.Context, db *gorm.DB, settings *BillingSettings) error
	AttachConnectedAccount(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, accountID string, now time.Time) error
	UpdateAccountFlags(ctx context.Context, db *gorm.DB, status AccountStatus, now time.Time) (bool, error)
	StampConnected(ctx context.Context, db *gorm.DB, accountID string, now time.Time) (bool, error)
	ClearConnectedAccount(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, now time.Time) error
}

type Service interface {
	// Get returns stored settings or the defaults when none exist.
	Get(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (BillingSettings, error)
	UpdateReminders(ctx context.Context, req UpdateRemindersRequest) (BillingSettings, error)
	FindByConnectedAccount(ctx context.Context, tx *gorm.DB, accountID string) (*BillingSettings, error)
	AttachConnectedAccount(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID, accountID string) error
	ApplyAccountStatus(ctx context.Context, tx *gorm.DB, status AccountStatus) (AccountStatusResult, error)
	// Deauthorize clears the connection in one update. It returns nil settings for an unknown account.
	Deauthorize(ctx context.Context, tx *gorm.DB, accountID string) (*BillingSettings, error)
}

var (
	ErrInvalidPractitioner  = errors.New("invalid_practitioner")
	ErrInvalidAccount       = errors.New("invalid_connected_account")
	ErrInvalidOffset        = errors.New("invalid_reminder_offset")
	ErrInvalidTemplate      = errors.New("invalid_reminder_template")
	ErrAccountAlreadyLinked = errors.New("connected_account_already_linked")
)
