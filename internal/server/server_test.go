package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	"github.com/smallbiznis/clinicledger/internal/config"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePaymentService struct {
	paymentdomain.Service
	outcome paymentdomain.Outcome
	err     error
	calls   int
}

func (f *fakePaymentService) Ingest(context.Context, string, []byte, http.Header) (paymentdomain.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeReminderService struct {
	reminderdomain.Service
	calls int
}

func (f *fakeReminderService) Process(context.Context) (reminderdomain.Summary, error) {
	f.calls++
	return reminderdomain.Summary{Processed: 3, Successful: 2, Failed: 1}, nil
}

type fakeInvoiceService struct {
	invoicedomain.Service
	created    invoicedomain.CreateRequest
	issueErr   error
	createCall int
}

func (f *fakeInvoiceService) Create(_ context.Context, req invoicedomain.CreateRequest) (invoicedomain.CreateResult, error) {
	f.createCall++
	f.created = req
	return invoicedomain.CreateResult{
		Created: []invoicedomain.ConsultationInvoice{},
		Skipped: []invoicedomain.Skipped{{Name: "Alex Doe", Reason: invoicedomain.SkipMissingRecipient}},
	}, nil
}

func (f *fakeInvoiceService) Issue(context.Context, invoicedomain.IssueRequest) (*invoicedomain.ConsultationInvoice, error) {
	return nil, f.issueErr
}

func newTestServer(t *testing.T) (*Server, *fakePaymentService, *fakeReminderService, *fakeInvoiceService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)

	payments := &fakePaymentService{outcome: paymentdomain.OutcomeProcessed}
	reminders := &fakeReminderService{}
	invoices := &fakeInvoiceService{}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin: engine,
		Cfg: config.Config{
			Internal: config.InternalConfig{TriggerSecret: "s3cret", TriggerActor: "scheduler"},
		},
		AuthzSvc:               authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		PaymentSvc:             payments,
		ReminderSvc:            reminders,
		ConsultationInvoiceSvc: invoices,
	})
	return srv, payments, reminders, invoices
}

func doRequest(srv *Server, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestWebhookResponses(t *testing.T) {
	cases := []struct {
		name    string
		outcome paymentdomain.Outcome
		err     error
		status  int
		errType string
	}{
		{name: "processed", outcome: paymentdomain.OutcomeProcessed, status: http.StatusOK},
		{name: "duplicate", outcome: paymentdomain.OutcomeDuplicate, status: http.StatusOK},
		{name: "unhandled type", outcome: paymentdomain.OutcomeIgnored, status: http.StatusOK},
		{name: "bad signature", err: paymentdomain.ErrInvalidSignature, status: http.StatusBadRequest, errType: "invalid_signature"},
		{name: "in flight", err: paymentdomain.ErrEventInFlight, status: http.StatusConflict, errType: "conflict"},
		{name: "handler failure", outcome: paymentdomain.OutcomeFailed, err: context.DeadlineExceeded, status: http.StatusInternalServerError, errType: "internal_error"},
		{
			name:    "handler not found sentinel",
			outcome: paymentdomain.OutcomeFailed,
			err:     fmt.Errorf("dispatch invoice.paid: %w", fmt.Errorf("platform_invoice: %w", subscriptiondomain.ErrSubscriptionNotFound)),
			status:  http.StatusInternalServerError,
			errType: "internal_error",
		},
		{
			name:    "handler payload sentinel",
			outcome: paymentdomain.OutcomeFailed,
			err:     fmt.Errorf("dispatch invoice.paid: %w", paymentdomain.ErrInvalidPayload),
			status:  http.StatusInternalServerError,
			errType: "internal_error",
		},
		{name: "store failure", err: fmt.Errorf("store event evt_1: %w", settingsdomain.ErrAccountAlreadyLinked), status: http.StatusInternalServerError, errType: "internal_error"},
		{name: "bad payload", err: paymentdomain.ErrInvalidPayload, status: http.StatusBadRequest, errType: "validation_error"},
		{name: "unknown provider", err: paymentdomain.ErrProviderNotFound, status: http.StatusNotFound, errType: "not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, payments, _, _ := newTestServer(t)
			payments.outcome = tc.outcome
			payments.err = tc.err

			resp := doRequest(srv, http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
			require.Equal(t, tc.status, resp.Code)
			if tc.errType == "" {
				assert.JSONEq(t, `{"received":true}`, resp.Body.String())
				return
			}
			assert.Equal(t, tc.errType, decodeError(t, resp).Type)
		})
	}
}

func TestInternalReminderTrigger(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		srv, _, reminders, _ := newTestServer(t)
		resp := doRequest(srv, http.MethodPost, "/internal/reminders/process", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
		assert.Zero(t, reminders.calls)
	})

	t.Run("wrong secret", func(t *testing.T) {
		srv, _, reminders, _ := newTestServer(t)
		resp := doRequest(srv, http.MethodPost, "/internal/reminders/process", "", map[string]string{HeaderInternalSecret: "s3cre"})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
		assert.Zero(t, reminders.calls)
	})

	t.Run("scheduler runs the processor", func(t *testing.T) {
		srv, _, reminders, _ := newTestServer(t)
		resp := doRequest(srv, http.MethodPost, "/internal/reminders/process", "", map[string]string{HeaderInternalSecret: "s3cret"})
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"processed":3,"successful":2,"failed":1}`, resp.Body.String())
		assert.Equal(t, 1, reminders.calls)
	})

	t.Run("unknown actor kind is forbidden", func(t *testing.T) {
		srv, _, reminders, _ := newTestServer(t)
		resp := doRequest(srv, http.MethodPost, "/internal/reminders/process", "", map[string]string{
			HeaderInternalSecret: "s3cret",
			HeaderInternalActor:  "practitioner:42",
		})
		assert.Equal(t, http.StatusForbidden, resp.Code)
		assert.Zero(t, reminders.calls)
	})
}

func TestPractitionerRoutesRequireHeader(t *testing.T) {
	srv, _, _, invoices := newTestServer(t)

	resp := doRequest(srv, http.MethodPost, "/api/consultation-invoices", `{"candidates":[]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Zero(t, invoices.createCall)
}

func TestCreateConsultationInvoicesValidates(t *testing.T) {
	srv, _, _, invoices := newTestServer(t)
	headers := map[string]string{HeaderPractitioner: "3100"}

	resp := doRequest(srv, http.MethodPost, "/api/consultation-invoices",
		`{"candidates":[{"consultation_id":"1","recipient_name":"Kim Park","amount":0,"currency":"USD"}]}`, headers)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "candidates[0].amount", payload.Errors[0].Field)
	assert.Equal(t, "gt", payload.Errors[0].Code)
	assert.Zero(t, invoices.createCall)

	resp = doRequest(srv, http.MethodPost, "/api/consultation-invoices",
		`{"candidates":[{"consultation_id":"1","recipient_id":"9","recipient_name":"Kim Park","amount":8000,"currency":"USD"}]}`, headers)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, snowflake.ID(3100), invoices.created.PractitionerID)
	assert.JSONEq(t, `{"created":[],"skipped":[{"name":"Alex Doe","reason":"missing_recipient"}]}`, resp.Body.String())
}

func TestDomainConflictMapsTo409(t *testing.T) {
	srv, _, _, invoices := newTestServer(t)
	invoices.issueErr = invoicedomain.ErrNotDraft

	resp := doRequest(srv, http.MethodPost, "/api/consultation-invoices/77/issue", "", map[string]string{HeaderPractitioner: "3100"})
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invoice_not_draft", decodeError(t, resp).Message)
}

func TestInvalidPathID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := doRequest(srv, http.MethodPost, "/api/consultation-invoices/abc/cancel", "", map[string]string{HeaderPractitioner: "3100"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "id", decodeError(t, resp).Errors[0].Field)
}
