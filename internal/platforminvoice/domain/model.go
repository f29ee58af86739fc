package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusVoid          Status = "void"
	StatusUncollectible Status = "uncollectible"
)

// PlatformInvoice is the practitioner's invoice for their own subscription.
// It is created once; afterwards only status and payment fields change.
type PlatformInvoice struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	SubscriptionID    *snowflake.ID `json:"subscription_id,omitempty"`
	PractitionerID    snowflake.ID  `json:"practitioner_id"`
	InvoiceNumber     string        `json:"invoice_number"`
	SubtotalAmount    int64         `json:"subtotal_amount"`
	TaxAmount         int64         `json:"tax_amount"`
	TotalAmount       int64         `json:"total_amount"`
	Currency          string        `json:"currency"`
	Status            Status        `json:"status"`
	InvoiceDate       time.Time     `json:"invoice_date"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	ExternalInvoiceID string        `json:"external_invoice_id"`
	HostedInvoiceURL  *string       `json:"hosted_invoice_url,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (PlatformInvoice) TableName() string { return "platform_invoices" }

type ListFilter struct {
	PractitionerID snowflake.ID
	CursorID       snowflake.ID
	CursorAt       *time.Time
	Limit          int
}
