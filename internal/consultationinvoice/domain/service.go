package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// Skip reasons reported for candidates that were not invoiced.
const (
	SkipMissingRecipient = "missing_recipient"
	SkipAlreadyInvoiced  = "already_invoiced"
)

type Candidate struct {
	ConsultationID string `json:"consultation_id"`
	RecipientID    string `json:"recipient_id"`
	RecipientName  string `json:"recipient_name" validate:"required"`
	RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
	Description    string `json:"description" validate:"max=500"`
	Amount         int64  `json:"amount" validate:"gt=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
}

type CreateRequest struct {
	PractitionerID snowflake.ID `json:"-"`
	Candidates     []Candidate  `json:"candidates" validate:"required,min=1,max=100,dive"`
	Issue          bool         `json:"issue"`
	DueInDays      int          `json:"due_in_days" validate:"omitempty,gte=1,lte=365"`
}

type Skipped struct {
	ConsultationID string `json:"consultation_id,omitempty"`
	Name           string `json:"name"`
	Reason         string `json:"reason"`
}

type CreateResult struct {
	Created []ConsultationInvoice `json:"created"`
	Skipped []Skipped             `json:"skipped"`
}

type IssueRequest struct {
	PractitionerID snowflake.ID
	ID             snowflake.ID
	DueInDays      int `json:"due_in_days" validate:"omitempty,gte=1,lte=365"`
}

type UpdateDraftRequest struct {
	PractitionerID snowflake.ID
	ID             snowflake.ID
	Amount         *int64  `json:"amount" validate:"omitempty,gt=0"`
	Description    *string `json:"description" validate:"omitempty,max=500"`
}

type MarkPaidInput struct {
	EventID           string
	InvoiceID         snowflake.ID
	CheckoutSessionID string
	PaymentIntentID   string
	AmountTotal       int64
	Currency          string
	PaidAt            time.Time
}

type MarkPaidResult struct {
	Invoice *ConsultationInvoice
	Changed bool
}

type PaymentFailureInput struct {
	EventID    string
	InvoiceID  snowflake.ID
	Source     string
	ExternalID string
	Reason     string
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type OverdueSummary struct {
	Marked int `json:"marked"`
}

type ListRequest struct {
	pagination.Pagination
	PractitionerID snowflake.ID
	Status         string `form:"status" validate:"omitempty,oneof=draft issued paid overdue cancelled"`
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []ConsultationInvoice `json:"invoices"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *ConsultationInvoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ConsultationInvoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ConsultationInvoice, error)
	ExistsActiveForConsultation(ctx context.Context, db *gorm.DB, consultationID snowflake.ID) (bool, error)
	Update(ctx context.Context, db *gorm.DB, invoice *ConsultationInvoice) error
	UpdateDraftAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, description string, updatedAt time.Time) (bool, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]ConsultationInvoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]ConsultationInvoice, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Issue(ctx context.Context, req IssueRequest) (*ConsultationInvoice, error)
	UpdateDraft(ctx context.Context, req UpdateDraftRequest) (*ConsultationInvoice, error)
	Cancel(ctx context.Context, practitionerID, id snowflake.ID) (*ConsultationInvoice, error)
	MarkOverdue(ctx context.Context, now time.Time, limit int) (OverdueSummary, error)
	MarkPaid(ctx context.Context, input MarkPaidInput) (MarkPaidResult, error)
	RecordPaymentFailure(ctx context.Context, input PaymentFailureInput) error
	CreateCheckoutSession(ctx context.Context, practitionerID, id snowflake.ID) (CheckoutResult, error)
	Get(ctx context.Context, practitionerID, id snowflake.ID) (*ConsultationInvoice, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidPractitioner = errors.New("invalid_practitioner")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrNotDraft            = errors.New("invoice_not_draft")
	ErrNotPayable          = errors.New("invoice_not_payable")
	ErrAccountNotReady     = errors.New("connected_account_not_ready")
	ErrNumberExhausted     = errors.New("invoice_number_retries_exhausted")
)
