package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordPaidInput struct {
	EventID                string
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	Currency               string
	SubtotalAmount         int64
	TaxAmount              int64
	InvoiceDate            time.Time
	PaidAt                 time.Time
	HostedInvoiceURL       string
}

type RecordPaidResult struct {
	Invoice  *PlatformInvoice
	Inserted bool
	// Changed is true when an existing row moved to paid.
	Changed bool
}

type RecordPaymentFailedInput struct {
	EventID                string
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	AttemptCount           int64
	AmountDue              int64
	Currency               string
	EventAt                time.Time
}

type ListRequest struct {
	pagination.Pagination
	PractitionerID snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []PlatformInvoice `json:"invoices"`
}

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *PlatformInvoice) (bool, error)
	MarkPaid(ctx context.Context, db *gorm.DB, externalInvoiceID string, paidAt time.Time, updatedAt time.Time) (bool, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalInvoiceID string) (*PlatformInvoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PlatformInvoice, error)
}

type Service interface {
	RecordPaid(ctx context.Context, input RecordPaidInput) (RecordPaidResult, error)
	RecordPaymentFailed(ctx context.Context, input RecordPaymentFailedInput) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidPractitioner = errors.New("invalid_practitioner")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNumberExhausted     = errors.New("invoice_number_retries_exhausted")
)
