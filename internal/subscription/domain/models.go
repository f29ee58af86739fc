// Package domain contains the practitioner subscription ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus is the internal lifecycle state of a platform subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// LiveStatuses are the statuses covered by the one-live-subscription index.
var LiveStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusIncomplete,
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Plan is a platform plan. The engine only reads plans.
type Plan struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name         string            `json:"name"`
	DisplayName  string            `json:"display_name"`
	MonthlyPrice int64             `json:"monthly_price"`
	YearlyPrice  int64             `json:"yearly_price"`
	Currency     string            `json:"currency"`
	Features     datatypes.JSONMap `json:"features"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (Plan) TableName() string { return "plans" }

// Subscription mirrors the processor subscription for one practitioner.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	PractitionerID         snowflake.ID       `json:"practitioner_id"`
	PlanID                 snowflake.ID       `json:"plan_id"`
	BillingCycle           BillingCycle       `json:"billing_cycle"`
	Status                 SubscriptionStatus `json:"status"`
	ExternalSubscriptionID string             `json:"external_subscription_id"`
	ExternalCustomerID     *string            `json:"external_customer_id,omitempty"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	LastEventAt            *time.Time         `json:"last_event_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// EventKind classifies the processor fact being reconciled.
type EventKind string

const (
	EventKindCreated       EventKind = "created"
	EventKindUpdated       EventKind = "updated"
	EventKindDeleted       EventKind = "deleted"
	EventKindPaymentFailed EventKind = "payment_failed"
)
