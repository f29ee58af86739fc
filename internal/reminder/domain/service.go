package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ScheduleInput struct {
	InvoiceID      snowflake.ID
	PractitionerID snowflake.ID
	IssuedAt       time.Time
}

type Summary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

type Options struct {
	Workers   int
	BatchSize int
}

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	ListDue(ctx context.Context, db *gorm.DB, cutoff, now time.Time, limit int) ([]Entry, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, now, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, sentAt time.Time, detail *string) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, detail string, now time.Time) error
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Entry, error)
}

type Service interface {
	// Schedule queues one entry per enabled offset inside tx and returns how many were new.
	Schedule(ctx context.Context, tx *gorm.DB, input ScheduleInput) (int, error)
	Process(ctx context.Context) (Summary, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Entry, error)
}

var (
	ErrInvalidInvoice      = errors.New("invalid_reminder_invoice")
	ErrInvalidPractitioner = errors.New("invalid_practitioner")
	ErrInvalidIssuedAt     = errors.New("invalid_issued_at")
	// ErrLeaseLost means another worker reclaimed the entry after its lease expired.
	ErrLeaseLost = errors.New("reminder_lease_lost")
)
