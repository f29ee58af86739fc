package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	paymentprovider "github.com/smallbiznis/clinicledger/internal/providers/payment"
)

type SyncInput struct {
	EventID          string
	AccountID        string
	ChargesEnabled   bool
	DetailsSubmitted bool
}

type SyncResult struct {
	Settings  *settingsdomain.BillingSettings
	Matched   bool
	Onboarded bool
}

type StartOnboardingInput struct {
	PractitionerID snowflake.ID
	Email          string `json:"email" validate:"omitempty,email"`
	Country        string `json:"country" validate:"omitempty,len=2"`
}

type Service interface {
	// Sync applies the processor's account flags. Unknown accounts are a no-op.
	Sync(ctx context.Context, input SyncInput) (SyncResult, error)
	Deauthorize(ctx context.Context, eventID string, accountID string) error
	StartOnboarding(ctx context.Context, input StartOnboardingInput) (paymentprovider.OnboardingLink, error)
	Refresh(ctx context.Context, practitionerID snowflake.ID) (settingsdomain.BillingSettings, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_connected_account")
	ErrNotConnected   = errors.New("connected_account_not_found")
)
