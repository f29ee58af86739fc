// Package payment is the outbound contract with the payment processor.
package payment

import (
	"context"
	"errors"
	"time"
)

type Account struct {
	ID               string
	Email            string
	ChargesEnabled   bool
	DetailsSubmitted bool
	PayoutsEnabled   bool
}

type CreateAccountInput struct {
	PractitionerID string
	Email          string
	Country        string
}

type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

type CheckoutInput struct {
	// AccountID is the connected account that receives the funds.
	AccountID      string
	InvoiceID      string
	InvoiceNumber  string
	Description    string
	Amount         int64
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Processor interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
	CreateExpressAccount(ctx context.Context, input CreateAccountInput) (Account, error)
	CreateOnboardingLink(ctx context.Context, accountID string) (OnboardingLink, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (CheckoutSession, error)
}

var (
	ErrNotConfigured   = errors.New("payment_processor_not_configured")
	ErrProcessorReject = errors.New("payment_processor_rejected")
)
