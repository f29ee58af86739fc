package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Handler delivers messages of one topic. Returning an error reschedules the message.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, msg Message) error
}

type Options struct {
	MaxAttempts int
	Lease       time.Duration
	BatchSize   int
}

type DrainSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, msg *Message) error
	ListClaimable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Message, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, now, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, sentAt time.Time) error
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, availableAt time.Time, lastError string) error
	MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, lastError string) error
}

type Service interface {
	// EnqueueTx writes a pending message inside the caller's transaction.
	EnqueueTx(ctx context.Context, tx *gorm.DB, topic string, payload any) (*Message, error)
	Drain(ctx context.Context, limit int) (DrainSummary, error)
}

var (
	ErrInvalidTopic   = errors.New("invalid_outbox_topic")
	ErrInvalidPayload = errors.New("invalid_outbox_payload")
	ErrNoHandler      = errors.New("outbox_handler_not_found")
)
