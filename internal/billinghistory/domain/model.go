package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceKind string

const (
	InvoiceKindPlatform     InvoiceKind = "platform"
	InvoiceKindConsultation InvoiceKind = "consultation"
)

// Event types written to the trail.
const (
	EventSubscriptionCreated        = "subscription.created"
	EventSubscriptionUpdated        = "subscription.updated"
	EventSubscriptionCanceled       = "subscription.canceled"
	EventSubscriptionStaleIgnored   = "subscription.stale_event_ignored"
	EventPlatformInvoicePaid        = "platform_invoice.paid"
	EventPlatformInvoicePaymentFail = "platform_invoice.payment_failed"
	EventConsultationIssued         = "consultation_invoice.issued"
	EventConsultationCancelled      = "consultation_invoice.cancelled"
	EventConsultationOverdue        = "consultation_invoice.overdue"
	EventConsultationPaid           = "consultation_invoice.paid"
	EventConsultationPaymentFail    = "consultation_invoice.payment_failed"
	EventReminderSent               = "reminder.sent"
	EventAccountOnboarded           = "connected_account.onboarded"
	EventAccountDeauthorized        = "connected_account.deauthorized"
)

// BillingHistory is one immutable audit row.
type BillingHistory struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	PractitionerID snowflake.ID      `json:"practitioner_id"`
	EventType      string            `json:"event_type"`
	SubscriptionID *snowflake.ID     `json:"subscription_id,omitempty"`
	InvoiceID      *snowflake.ID     `json:"invoice_id,omitempty"`
	InvoiceKind    *InvoiceKind      `json:"invoice_kind,omitempty"`
	SourceEventID  *string           `json:"source_event_id,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (BillingHistory) TableName() string { return "billing_history" }

type ListFilter struct {
	PractitionerID snowflake.ID
	EventType      string
	InvoiceID      *snowflake.ID
	Cursor         *Cursor
	Limit          int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
