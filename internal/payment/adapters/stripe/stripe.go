package stripe

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

// Verifier checks Stripe webhook signatures with the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

func (v *Verifier) Provider() string {
	return paymentdomain.ProviderStripe
}

func (v *Verifier) Verify(payload []byte, headers http.Header) (*paymentdomain.Event, error) {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" || v.secret == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureErr(err) {
			return nil, paymentdomain.ErrInvalidSignature
		}
		return nil, paymentdomain.ErrInvalidPayload
	}
	return toEnvelope(event)
}

func (v *Verifier) Parse(payload []byte) (*paymentdomain.Event, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return toEnvelope(event)
}

func toEnvelope(event stripego.Event) (*paymentdomain.Event, error) {
	id := strings.TrimSpace(event.ID)
	eventType := strings.TrimSpace(string(event.Type))
	if id == "" || eventType == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	envelope := &paymentdomain.Event{
		Provider: paymentdomain.ProviderStripe,
		ID:       id,
		Type:     eventType,
		Account:  strings.TrimSpace(event.Account),
	}
	if event.Created > 0 {
		envelope.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data != nil {
		envelope.Object = event.Data.Raw
	}
	return envelope, nil
}

func isSignatureErr(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

var _ paymentdomain.Verifier = (*Verifier)(nil)
