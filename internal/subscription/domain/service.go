package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ReconcileInput is one subscription fact reported by the processor.
type ReconcileInput struct {
	EventID                string
	Kind                   EventKind
	EventAt                time.Time
	ExternalSubscriptionID string
	ExternalCustomerID     string
	PractitionerID         snowflake.ID
	PlanName               string
	BillingCycle           BillingCycle
	RawStatus              string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
}

type ReconcileResult struct {
	Subscription   Subscription
	PreviousStatus SubscriptionStatus
	Inserted       bool
	Stale          bool
	StatusFallback bool
}

// MarkPastDueInput carries a failed renewal payment.
type MarkPastDueInput struct {
	ExternalSubscriptionID string
	EventID                string
	EventAt                time.Time
}

type MarkPastDueResult struct {
	Subscription   Subscription
	PreviousStatus SubscriptionStatus
	Changed        bool
	Stale          bool
}

// ActiveSubscription is the practitioner's live subscription with its plan.
type ActiveSubscription struct {
	Subscription
	Plan Plan `json:"plan"`
}

type Repository interface {
	FindPlanByName(ctx context.Context, db *gorm.DB, name string) (*Plan, error)
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindByExternalIDForUpdate(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindLiveByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*Subscription, error)
	FindLiveByPractitionerForUpdate(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*Subscription, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}

type Service interface {
	// Reconcile applies a created, updated or deleted subscription event.
	Reconcile(ctx context.Context, input ReconcileInput) (ReconcileResult, error)
	// MarkPastDue moves the subscription to past_due inside the caller's transaction.
	MarkPastDue(ctx context.Context, tx *gorm.DB, input MarkPastDueInput) (MarkPastDueResult, error)
	FindByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*Subscription, error)
	GetActive(ctx context.Context, practitionerID snowflake.ID) (ActiveSubscription, error)
}

var (
	ErrInvalidPractitioner  = errors.New("invalid_practitioner")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
