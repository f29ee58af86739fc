package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// Message is a side effect recorded in the same transaction as the state
// change that caused it, delivered later by Drain.
type Message struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	Topic          string         `json:"topic"`
	Payload        datatypes.JSON `json:"payload"`
	Status         Status         `json:"status"`
	Attempts       int            `json:"attempts"`
	AvailableAt    time.Time      `json:"available_at"`
	ClaimedBy      *string        `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
}

func (Message) TableName() string { return "outbox_messages" }
