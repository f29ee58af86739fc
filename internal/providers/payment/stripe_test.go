package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/clinicledger/internal/providers/retry"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProcessor(t *testing.T, handler http.Handler) *StripeProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	})
	backends := &stripego.Backends{API: backend, Connect: backend, Uploads: backend}
	policy := retry.Policy{Timeout: 2 * time.Second, MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return NewStripeProcessor("sk_test_123", backends, StripeURLs{
		CheckoutSuccess: "https://app.test/pay/success",
		CheckoutCancel:  "https://app.test/pay/cancel",
		ConnectRefresh:  "https://app.test/settings",
		ConnectReturn:   "https://app.test/settings",
	}, policy, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGetAccount(t *testing.T) {
	processor := newTestProcessor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/accounts/acct_1", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"id":"acct_1","object":"account","email":"dr@clinic.test","charges_enabled":true,"details_submitted":true,"payouts_enabled":false}`)
	}))

	acct, err := processor.GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, Account{ID: "acct_1", Email: "dr@clinic.test", ChargesEnabled: true, DetailsSubmitted: true}, acct)
}

func TestCreateExpressAccountAndLink(t *testing.T) {
	processor := newTestProcessor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/v1/accounts":
			assert.Equal(t, "express", r.PostForm.Get("type"))
			assert.Equal(t, "501", r.PostForm.Get("metadata[practitioner_id]"))
			assert.Equal(t, "express-account-501", r.Header.Get("Idempotency-Key"))
			writeJSON(w, http.StatusOK, `{"id":"acct_new","object":"account"}`)
		case "/v1/account_links":
			assert.Equal(t, "acct_new", r.PostForm.Get("account"))
			assert.Equal(t, "account_onboarding", r.PostForm.Get("type"))
			writeJSON(w, http.StatusOK, `{"object":"account_link","url":"https://connect.stripe.test/setup/abc","expires_at":1743500000}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	acct, err := processor.CreateExpressAccount(context.Background(), CreateAccountInput{PractitionerID: "501", Email: "dr@clinic.test"})
	require.NoError(t, err)
	assert.Equal(t, "acct_new", acct.ID)

	link, err := processor.CreateOnboardingLink(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://connect.stripe.test/setup/abc", link.URL)
	assert.Equal(t, int64(1743500000), link.ExpiresAt.Unix())
}

func TestCreateCheckoutSessionOnConnectedAccount(t *testing.T) {
	processor := newTestProcessor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "acct_1", r.Header.Get("Stripe-Account"))
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "12500", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "eur", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "9001", r.PostForm.Get("metadata[consultation_invoice_id]"))
		assert.Equal(t, "9001", r.PostForm.Get("payment_intent_data[metadata][consultation_invoice_id]"))
		writeJSON(w, http.StatusOK, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/c/cs_test_1"}`)
	}))

	session, err := processor.CreateCheckoutSession(context.Background(), CheckoutInput{
		AccountID:     "acct_1",
		InvoiceID:     "9001",
		InvoiceNumber: "CONS-202504-00001",
		Amount:        12500,
		Currency:      "EUR",
		CustomerEmail: "patient@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/c/cs_test_1"}, session)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	processor := newTestProcessor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such account: 'acct_x'"}}`)
	}))

	_, err := processor.GetAccount(context.Background(), "acct_x")
	require.ErrorIs(t, err, ErrProcessorReject)
	assert.NotContains(t, err.Error(), "No such account")
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	processor := newTestProcessor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"acct_1","object":"account"}`)
	}))

	acct, err := processor.GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", acct.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnconfigured(t *testing.T) {
	var p Processor = Unconfigured{}
	_, err := p.CreateOnboardingLink(context.Background(), "acct_1")
	require.ErrorIs(t, err, ErrNotConfigured)
}
