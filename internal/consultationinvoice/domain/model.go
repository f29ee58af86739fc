package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// ConsultationInvoice bills a patient for one consultation on behalf of a practitioner.
type ConsultationInvoice struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	PractitionerID    snowflake.ID  `json:"practitioner_id"`
	InvoiceNumber     string        `json:"invoice_number"`
	ConsultationID    *snowflake.ID `json:"consultation_id,omitempty"`
	RecipientID       snowflake.ID  `json:"recipient_id"`
	RecipientName     string        `json:"recipient_name"`
	RecipientEmail    string        `json:"recipient_email"`
	Description       string        `json:"description"`
	Amount            int64         `json:"amount"`
	Currency          string        `json:"currency"`
	Status            Status        `json:"status"`
	IssuedAt          *time.Time    `json:"issued_at,omitempty"`
	DueAt             *time.Time    `json:"due_at,omitempty"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`
	OverdueAt         *time.Time    `json:"overdue_at,omitempty"`
	ExternalPaymentID *string       `json:"external_payment_id,omitempty"`
	CheckoutSessionID *string       `json:"checkout_session_id,omitempty"`
	CheckoutURL       *string       `json:"checkout_url,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (ConsultationInvoice) TableName() string { return "consultation_invoices" }

// Payable reports whether the invoice still expects a payment.
func (i ConsultationInvoice) Payable() bool {
	return i.Status == StatusIssued || i.Status == StatusOverdue
}

type ListFilter struct {
	PractitionerID snowflake.ID
	Status         Status
	CursorID       snowflake.ID
	CursorAt       *time.Time
	Limit          int
}

// TopicPaymentConfirmation is the outbox topic written when an invoice is paid.
const TopicPaymentConfirmation = "consultation_invoice.payment_confirmation"

// PaymentConfirmation is the outbox payload for the payment-confirmation email.
// It carries everything the email needs so delivery never reads invoice state.
type PaymentConfirmation struct {
	InvoiceID        snowflake.ID `json:"invoice_id"`
	InvoiceNumber    string       `json:"invoice_number"`
	PractitionerID   snowflake.ID `json:"practitioner_id"`
	PractitionerName string       `json:"practitioner_name"`
	ReplyTo          string       `json:"reply_to,omitempty"`
	RecipientName    string       `json:"recipient_name"`
	RecipientEmail   string       `json:"recipient_email"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	PaidAt           time.Time    `json:"paid_at"`
}
