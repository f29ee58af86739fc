package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Detail values stored on entries retired without sending.
const (
	DetailAutomationDisabled = "automation_disabled"
	DetailNotEligiblePrefix  = "invoice_not_eligible:"
	DetailInvoiceMissing     = "invoice_not_found"
)

// Entry is one scheduled reminder for an invoice at a fixed offset after issuance.
type Entry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID      snowflake.ID `json:"invoice_id"`
	PractitionerID snowflake.ID `json:"practitioner_id"`
	OffsetDays     int          `json:"offset_days"`
	ScheduledFor   time.Time    `json:"scheduled_for"`
	Sent           bool         `json:"sent"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	ErrorDetail    *string      `json:"error_detail,omitempty"`
	Attempts       int          `json:"attempts"`
	ClaimedBy      *string      `json:"-"`
	LeaseExpiresAt *time.Time   `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Entry) TableName() string { return "reminder_queue" }
