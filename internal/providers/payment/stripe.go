package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/clinicledger/internal/providers/retry"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// metadataInvoiceKey ties checkout sessions and payment intents back to the invoice.
const metadataInvoiceKey = "consultation_invoice_id"

type StripeURLs struct {
	CheckoutSuccess string
	CheckoutCancel  string
	ConnectRefresh  string
	ConnectReturn   string
}

type StripeProcessor struct {
	api    *client.API
	urls   StripeURLs
	policy retry.Policy
	log    *zap.Logger
}

// NewStripeProcessor builds a processor on backends. Nil backends use Stripe's defaults.
func NewStripeProcessor(secretKey string, backends *stripego.Backends, urls StripeURLs, policy retry.Policy, log *zap.Logger) *StripeProcessor {
	return &StripeProcessor{
		api:    client.New(secretKey, backends),
		urls:   urls,
		policy: policy,
		log:    log.Named("payment.stripe"),
	}
}

func (p *StripeProcessor) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return call(ctx, p, "get_account", func(ctx context.Context) (Account, error) {
		params := &stripego.AccountParams{}
		params.Context = ctx
		acct, err := p.api.Accounts.GetByID(accountID, params)
		if err != nil {
			return Account{}, err
		}
		return toAccount(acct), nil
	})
}

func (p *StripeProcessor) CreateExpressAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	return call(ctx, p, "create_account", func(ctx context.Context) (Account, error) {
		params := &stripego.AccountParams{
			Type: stripego.String(string(stripego.AccountTypeExpress)),
			Capabilities: &stripego.AccountCapabilitiesParams{
				CardPayments: &stripego.AccountCapabilitiesCardPaymentsParams{Requested: stripego.Bool(true)},
				Transfers:    &stripego.AccountCapabilitiesTransfersParams{Requested: stripego.Bool(true)},
			},
		}
		params.Context = ctx
		if email := strings.TrimSpace(input.Email); email != "" {
			params.Email = stripego.String(email)
		}
		if country := strings.TrimSpace(input.Country); country != "" {
			params.Country = stripego.String(country)
		}
		params.AddMetadata("practitioner_id", input.PractitionerID)
		params.SetIdempotencyKey("express-account-" + input.PractitionerID)

		acct, err := p.api.Accounts.New(params)
		if err != nil {
			return Account{}, err
		}
		return toAccount(acct), nil
	})
}

func (p *StripeProcessor) CreateOnboardingLink(ctx context.Context, accountID string) (OnboardingLink, error) {
	return call(ctx, p, "create_account_link", func(ctx context.Context) (OnboardingLink, error) {
		params := &stripego.AccountLinkParams{
			Account:    stripego.String(accountID),
			RefreshURL: stripego.String(p.urls.ConnectRefresh),
			ReturnURL:  stripego.String(p.urls.ConnectReturn),
			Type:       stripego.String("account_onboarding"),
		}
		params.Context = ctx
		link, err := p.api.AccountLinks.New(params)
		if err != nil {
			return OnboardingLink{}, err
		}
		return OnboardingLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
	})
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (CheckoutSession, error) {
	return call(ctx, p, "create_checkout_session", func(ctx context.Context) (CheckoutSession, error) {
		metadata := map[string]string{
			metadataInvoiceKey: input.InvoiceID,
			"invoice_number":   input.InvoiceNumber,
		}
		name := "Invoice " + input.InvoiceNumber
		params := &stripego.CheckoutSessionParams{
			Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
			SuccessURL:        stripego.String(p.urls.CheckoutSuccess),
			CancelURL:         stripego.String(p.urls.CheckoutCancel),
			ClientReferenceID: stripego.String(input.InvoiceID),
			LineItems: []*stripego.CheckoutSessionLineItemParams{
				{
					Quantity: stripego.Int64(1),
					PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
						Currency:   stripego.String(strings.ToLower(input.Currency)),
						UnitAmount: stripego.Int64(input.Amount),
						ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
							Name: stripego.String(name),
						},
					},
				},
			},
			PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
				Metadata: metadata,
			},
			Metadata: metadata,
		}
		if desc := strings.TrimSpace(input.Description); desc != "" {
			params.LineItems[0].PriceData.ProductData.Description = stripego.String(desc)
		}
		if email := strings.TrimSpace(input.CustomerEmail); email != "" {
			params.CustomerEmail = stripego.String(email)
		}
		params.Context = ctx
		params.SetStripeAccount(input.AccountID)
		if input.IdempotencyKey != "" {
			params.SetIdempotencyKey(input.IdempotencyKey)
		}

		session, err := p.api.CheckoutSessions.New(params)
		if err != nil {
			return CheckoutSession{}, err
		}
		return CheckoutSession{ID: session.ID, URL: session.URL}, nil
	})
}

func call[T any](ctx context.Context, p *StripeProcessor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := retry.Do(ctx, p.policy, func(ctx context.Context) (T, error) {
		result, err := fn(ctx)
		if err != nil && !retryable(err) {
			return result, retry.Permanent(err)
		}
		return result, err
	})
	if err != nil {
		p.log.Warn("stripe call failed", zap.String("op", op), zap.Error(err))
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) {
			return result, fmt.Errorf("%w: %s %s", ErrProcessorReject, op, stripeErr.Code)
		}
		return result, fmt.Errorf("stripe %s: %w", op, err)
	}
	return result, nil
}

func retryable(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return true
	}
	return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode == http.StatusConflict ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError
}

func toAccount(acct *stripego.Account) Account {
	if acct == nil {
		return Account{}
	}
	return Account{
		ID:               acct.ID,
		Email:            acct.Email,
		ChargesEnabled:   acct.ChargesEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
}

// Unconfigured stands in when no Stripe secret key is set.
type Unconfigured struct{}

func (Unconfigured) GetAccount(context.Context, string) (Account, error) {
	return Account{}, ErrNotConfigured
}

func (Unconfigured) CreateExpressAccount(context.Context, CreateAccountInput) (Account, error) {
	return Account{}, ErrNotConfigured
}

func (Unconfigured) CreateOnboardingLink(context.Context, string) (OnboardingLink, error) {
	return OnboardingLink{}, ErrNotConfigured
}

func (Unconfigured) CreateCheckoutSession(context.Context, CheckoutInput) (CheckoutSession, error) {
	return CheckoutSession{}, ErrNotConfigured
}
