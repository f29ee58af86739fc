package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes a history row to append. Exactly one practitioner owns it.
type Entry struct {
	PractitionerID snowflake.ID
	EventType      string
	SubscriptionID *snowflake.ID
	InvoiceID      *snowflake.ID
	InvoiceKind    InvoiceKind
	SourceEventID  string
	Metadata       map[string]any
}

type ListRequest struct {
	pagination.Pagination
	PractitionerID snowflake.ID
	EventType      string `form:"event_type"`
	InvoiceID      *snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Entries []BillingHistory `json:"entries"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *BillingHistory) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]BillingHistory, error)
}

type Service interface {
	// Record appends outside any caller transaction.
	Record(ctx context.Context, entry Entry) error
	// RecordTx appends inside tx so the entry commits with the state change it describes.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidPractitioner = errors.New("invalid_practitioner")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
