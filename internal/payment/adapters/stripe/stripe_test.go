package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayload = `{
	"id": "evt_123",
	"object": "event",
	"type": "account.updated",
	"account": "acct_1",
	"created": 1700000000,
	"data": {"object": {"id": "acct_1", "charges_enabled": true, "details_submitted": true}}
}`

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(testPayload)
	timestamp := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, timestamp))

	verifier := NewVerifier(secret)
	event, err := verifier.Verify(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, "account.updated", event.Type)
	assert.Equal(t, "acct_1", event.Account)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Created)

	var account Account
	require.NoError(t, event.Decode(&account))
	assert.True(t, account.ChargesEnabled)
	assert.True(t, account.DetailsSubmitted)

	headers.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	_, err = verifier.Verify(payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeaderAndStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(testPayload)
	verifier := NewVerifier(secret)

	_, err := verifier.Verify(payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	headers := http.Header{}
	stale := time.Now().Add(-time.Hour).Unix()
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))
	_, err = verifier.Verify(payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParseStoredPayload(t *testing.T) {
	event, err := NewVerifier("whsec_test").Parse([]byte(testPayload))
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.JSONEq(t, `{"id": "acct_1", "charges_enabled": true, "details_submitted": true}`, string(event.Object))

	_, err = NewVerifier("whsec_test").Parse([]byte(`{"object":"event"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = NewVerifier("whsec_test").Parse([]byte(`not-json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestInvoiceSubscriptionIDAcrossLayouts(t *testing.T) {
	legacy := paymentdomain.Event{Object: []byte(`{"id":"in_1","subscription":"sub_legacy"}`)}
	var invoice Invoice
	require.NoError(t, legacy.Decode(&invoice))
	assert.Equal(t, "sub_legacy", invoice.SubscriptionID())

	basil := paymentdomain.Event{Object: []byte(`{"id":"in_2","parent":{"subscription_details":{"subscription":{"id":"sub_basil"}}}}`)}
	invoice = Invoice{}
	require.NoError(t, basil.Decode(&invoice))
	assert.Equal(t, "sub_basil", invoice.SubscriptionID())
}

func TestInvoiceLineAmounts(t *testing.T) {
	tests := []struct {
		name         string
		object       string
		wantSubtotal int64
		wantTax      int64
	}{
		{
			name:         "line taxes",
			object:       `{"lines":{"data":[{"amount":1000,"tax_amounts":[{"amount":100}]},{"amount":500,"tax_amounts":[{"amount":50}]}]}}`,
			wantSubtotal: 1500,
			wantTax:      150,
		},
		{
			name:         "invoice tax fallback",
			object:       `{"tax":210,"lines":{"data":[{"amount":2100}]}}`,
			wantSubtotal: 2100,
			wantTax:      210,
		},
		{
			name:         "total taxes fallback",
			object:       `{"total_taxes":[{"amount":30},{"amount":12}],"lines":{"data":[{"amount":420}]}}`,
			wantSubtotal: 420,
			wantTax:      42,
		},
		{
			name:         "no lines",
			object:       `{"subtotal":900}`,
			wantSubtotal: 900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var invoice Invoice
			require.NoError(t, paymentdomain.Event{Object: []byte(tt.object)}.Decode(&invoice))
			subtotal, tax := invoice.LineAmounts()
			assert.Equal(t, tt.wantSubtotal, subtotal)
			assert.Equal(t, tt.wantTax, tax)
		})
	}
}

func TestSubscriptionPeriodFallsBackToItem(t *testing.T) {
	var sub Subscription
	require.NoError(t, paymentdomain.Event{Object: []byte(`{
		"id":"sub_1",
		"customer":{"id":"cus_1"},
		"items":{"data":[{"current_period_start":1700000000,"current_period_end":1702592000,"price":{"recurring":{"interval":"month"}}}]}
	}`)}.Decode(&sub))

	start, end := sub.Period()
	require.NotNil(t, start)
	require.NotNil(t, end)
	assert.Equal(t, int64(1700000000), start.Unix())
	assert.Equal(t, int64(1702592000), end.Unix())
	assert.Equal(t, "cus_1", sub.Customer.ID)
}

func TestPaymentIntentFailureReason(t *testing.T) {
	assert.Equal(t, "insufficient_funds", PaymentIntent{LastPaymentError: &PaymentError{Code: "card_declined", DeclineCode: "insufficient_funds"}}.FailureReason())
	assert.Equal(t, "card_declined", PaymentIntent{LastPaymentError: &PaymentError{Code: "card_declined"}}.FailureReason())
	assert.Equal(t, "unknown", PaymentIntent{}.FailureReason())
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
