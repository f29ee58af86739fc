package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// EventRecord is the stored copy of an inbound processor event. Rows are never deleted.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id"`
	EventType       string         `json:"event_type"`
	AccountID       *string        `json:"account_id,omitempty"`
	Payload         datatypes.JSON `json:"payload"`
	EventCreatedAt  *time.Time     `json:"event_created_at,omitempty"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	Attempts        int            `json:"attempts"`
	LockedUntil     *time.Time     `json:"locked_until,omitempty"`
	LastError       *string        `json:"last_error,omitempty"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// Event is the verified envelope handed to handlers.
type Event struct {
	Provider string
	ID       string
	Type     string
	// Account is the connected account the event originated from, empty for platform events.
	Account string
	Created time.Time
	Object  json.RawMessage
}

// Decode unmarshals data.object into v.
func (e Event) Decode(v any) error {
	if len(e.Object) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Object, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)
