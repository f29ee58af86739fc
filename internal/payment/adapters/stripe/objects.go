package stripe

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// The shapes below decode only the fields the ledger reads from data.object.
// They accept both the pre-2025 and the basil API layouts so events from
// endpoints pinned to either version reconcile the same way.

// Ref is an expandable reference: either an id string or an object with an id.
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type Recurring struct {
	Interval string `json:"interval"`
}

type Price struct {
	ID        string            `json:"id"`
	Nickname  string            `json:"nickname"`
	LookupKey string            `json:"lookup_key"`
	Currency  string            `json:"currency"`
	Recurring *Recurring        `json:"recurring"`
	Metadata  map[string]string `json:"metadata"`
}

type SubscriptionItem struct {
	ID                 string `json:"id"`
	Price              Price  `json:"price"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

type Subscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Customer           Ref               `json:"customer"`
	Metadata           map[string]string `json:"metadata"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

// FirstItem returns the first subscription item, if any.
func (s Subscription) FirstItem() (SubscriptionItem, bool) {
	if len(s.Items.Data) == 0 {
		return SubscriptionItem{}, false
	}
	return s.Items.Data[0], true
}

// Period returns the current billing period. Newer API versions carry it per item.
func (s Subscription) Period() (*time.Time, *time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if item, ok := s.FirstItem(); ok {
		if start == 0 {
			start = item.CurrentPeriodStart
		}
		if end == 0 {
			end = item.CurrentPeriodEnd
		}
	}
	return UnixPtr(start), UnixPtr(end)
}

type TaxAmount struct {
	Amount int64 `json:"amount"`
}

type InvoiceLine struct {
	ID         string      `json:"id"`
	Amount     int64       `json:"amount"`
	TaxAmounts []TaxAmount `json:"tax_amounts"`
	Taxes      []TaxAmount `json:"taxes"`
}

type Invoice struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	Customer         Ref               `json:"customer"`
	AmountDue        int64             `json:"amount_due"`
	AmountPaid       int64             `json:"amount_paid"`
	Subtotal         int64             `json:"subtotal"`
	Total            int64             `json:"total"`
	Tax              *int64            `json:"tax"`
	TotalTaxes       []TaxAmount       `json:"total_taxes"`
	AttemptCount     int64             `json:"attempt_count"`
	Created          int64             `json:"created"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	Metadata         map[string]string `json:"metadata"`
	Subscription     Ref               `json:"subscription"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription Ref `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []InvoiceLine `json:"data"`
	} `json:"lines"`
}

// SubscriptionID resolves the owning subscription across API layouts.
func (i Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Subscription.ID); id != "" {
		return id
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription.ID)
	}
	return ""
}

// LineAmounts sums line amounts and per-line taxes. When no line carries tax
// the invoice-level tax is used instead.
func (i Invoice) LineAmounts() (subtotal int64, tax int64) {
	for _, line := range i.Lines.Data {
		subtotal += line.Amount
		for _, t := range line.TaxAmounts {
			tax += t.Amount
		}
		for _, t := range line.Taxes {
			tax += t.Amount
		}
	}
	if tax == 0 {
		switch {
		case i.Tax != nil:
			tax = *i.Tax
		case len(i.TotalTaxes) > 0:
			for _, t := range i.TotalTaxes {
				tax += t.Amount
			}
		}
	}
	if len(i.Lines.Data) == 0 {
		subtotal = i.Subtotal
	}
	return subtotal, tax
}

type Account struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	ChargesEnabled   bool              `json:"charges_enabled"`
	DetailsSubmitted bool              `json:"details_submitted"`
	PayoutsEnabled   bool              `json:"payouts_enabled"`
	Metadata         map[string]string `json:"metadata"`
}

type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     Ref               `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type PaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type PaymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *PaymentError     `json:"last_payment_error"`
}

// FailureReason returns the most specific reason Stripe gave for the failure.
func (p PaymentIntent) FailureReason() string {
	if p.LastPaymentError == nil {
		return "unknown"
	}
	for _, reason := range []string{p.LastPaymentError.DeclineCode, p.LastPaymentError.Code, p.LastPaymentError.Message} {
		if reason = strings.TrimSpace(reason); reason != "" {
			return reason
		}
	}
	return "unknown"
}

// MetadataValue returns the first non-empty value among keys.
func MetadataValue(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(metadata[key]); value != "" {
			return value
		}
	}
	return ""
}

func UnixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
