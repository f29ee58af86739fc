package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Verifier authenticates and parses a provider's webhook deliveries.
type Verifier interface {
	Provider() string
	// Verify checks the delivery signature before returning the envelope.
	Verify(payload []byte, headers http.Header) (*Event, error)
	// Parse rebuilds the envelope from an already verified, stored payload.
	Parse(payload []byte) (*Event, error)
}

// Handler reacts to one or more event types. Handlers must be idempotent:
// a failed event is re-dispatched to every handler registered for its type.
type Handler interface {
	Name() string
	EventTypes() []string
	Handle(ctx context.Context, event Event) error
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	ClaimEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time, lockedUntil time.Time) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error
	ListUnprocessed(ctx context.Context, db *gorm.DB, provider string, receivedBefore time.Time, limit int) ([]EventRecord, error)
}

type Service interface {
	// Ingest verifies, stores and dispatches one delivery.
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
	// Replay re-dispatches a stored event that has not been processed yet.
	Replay(ctx context.Context, provider string, providerEventID string) (Outcome, error)
	// ListUnprocessed returns stored events still awaiting a successful dispatch.
	ListUnprocessed(ctx context.Context, provider string, limit int) ([]EventRecord, error)
}

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventNotFound         = errors.New("event_not_found")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventInFlight         = errors.New("event_in_flight")
)
