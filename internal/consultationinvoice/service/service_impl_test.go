package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	historyrepo "github.com/smallbiznis/clinicledger/internal/billinghistory/repository"
	historyservice "github.com/smallbiznis/clinicledger/internal/billinghistory/service"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	settingsrepo "github.com/smallbiznis/clinicledger/internal/billingsettings/repository"
	settingsservice "github.com/smallbiznis/clinicledger/internal/billingsettings/service"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/config"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/repository"
	"github.com/smallbiznis/clinicledger/internal/invoicenumber"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/clinicledger/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/clinicledger/internal/outbox/service"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	"github.com/smallbiznis/clinicledger/internal/providers/email"
	paymentprovider "github.com/smallbiznis/clinicledger/internal/providers/payment"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	reminderrepo "github.com/smallbiznis/clinicledger/internal/reminder/repository"
	reminderservice "github.com/smallbiznis/clinicledger/internal/reminder/service"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const practitionerID = snowflake.ID(3100)

var baseTime = time.Date(2025, 4, 3, 14, 0, 0, 0, time.UTC)

type noopSender struct{}

func (noopSender) Send(ctx context.Context, msg email.Message) error { return nil }

type fakeProcessor struct {
	inputs []paymentprovider.CheckoutInput
}

func (f *fakeProcessor) GetAccount(ctx context.Context, accountID string) (paymentprovider.Account, error) {
	return paymentprovider.Account{ID: accountID}, nil
}

func (f *fakeProcessor) CreateExpressAccount(ctx context.Context, input paymentprovider.CreateAccountInput) (paymentprovider.Account, error) {
	return paymentprovider.Account{}, paymentprovider.ErrNotConfigured
}

func (f *fakeProcessor) CreateOnboardingLink(ctx context.Context, accountID string) (paymentprovider.OnboardingLink, error) {
	return paymentprovider.OnboardingLink{}, paymentprovider.ErrNotConfigured
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, input paymentprovider.CheckoutInput) (paymentprovider.CheckoutSession, error) {
	f.inputs = append(f.inputs, input)
	return paymentprovider.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

type fixture struct {
	db        *gorm.DB
	clk       *clock.FakeClock
	svc       domain.Service
	settings  settingsdomain.Service
	reminders reminderdomain.Service
	processor *fakeProcessor
	handler   *EventHandler
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(baseTime)
	log := zap.NewNop()

	settings := settingsservice.NewService(settingsservice.Params{DB: db, Log: log, Clock: clk, Repo: settingsrepo.Provide()})
	history := historyservice.NewService(historyservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: historyrepo.Provide()})
	reminders := reminderservice.NewService(reminderservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        reminderrepo.Provide(),
		InvoiceRepo: repository.Provide(),
		SettingsSvc: settings,
		HistorySvc:  history,
		Sender:      noopSender{},
		Templates:   config.NewStaticReminderConfigHolder(config.DefaultReminderConfig()),
	})
	outbox := outboxservice.NewService(outboxservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: outboxrepo.Provide(),
	})
	processor := &fakeProcessor{}

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		Numbers:     invoicenumber.NewGenerator(invoicenumber.Params{DB: db, Clock: clk}),
		SettingsSvc: settings,
		HistorySvc:  history,
		ReminderSvc: reminders,
		OutboxSvc:   outbox,
		Processor:   processor,
	})
	return fixture{
		db:        db,
		clk:       clk,
		svc:       svc,
		settings:  settings,
		reminders: reminders,
		processor: processor,
		handler:   NewEventHandler(svc, log),
	}
}

func candidate(recipientID, name string) domain.Candidate {
	return domain.Candidate{
		RecipientID:    recipientID,
		RecipientName:  name,
		RecipientEmail: "patient@example.com",
		Description:    "Follow-up consultation",
		Amount:         8000,
		Currency:       "usd",
	}
}

func (f fixture) createOne(t *testing.T, issue bool) domain.ConsultationInvoice {
	t.Helper()
	result, err := f.svc.Create(context.Background(), domain.CreateRequest{
		PractitionerID: practitionerID,
		Candidates:     []domain.Candidate{candidate("91", "Sam Lee")},
		Issue:          issue,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	return result.Created[0]
}

func (f fixture) historyCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&historydomain.BillingHistory{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (f fixture) outboxCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&outboxdomain.Message{}).Where("topic = ?", domain.TopicPaymentConfirmation).Count(&n).Error)
	return n
}

func checkoutEvent(t *testing.T, eventID, eventType string, object map[string]any) paymentdomain.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return paymentdomain.Event{
		Provider: paymentdomain.ProviderStripe,
		ID:       eventID,
		Type:     eventType,
		Account:  "acct_clinic",
		Created:  baseTime.Add(time.Hour),
		Object:   raw,
	}
}

func completedSession(invoiceID snowflake.ID) map[string]any {
	return map[string]any{
		"id":             "cs_live_1",
		"mode":           "payment",
		"payment_status": "paid",
		"payment_intent": "pi_1",
		"amount_total":   8000,
		"currency":       "usd",
		"metadata":       map[string]string{MetadataInvoiceKey: invoiceID.String()},
	}
}

func TestCreateSkipsUnresolvableRecipients(t *testing.T) {
	f := setup(t)

	noEmail := candidate("95", "Kim Park")
	noEmail.RecipientEmail = ""
	result, err := f.svc.Create(context.Background(), domain.CreateRequest{
		PractitionerID: practitionerID,
		Candidates: []domain.Candidate{
			candidate("91", "Sam Lee"),
			candidate("", "Alex Doe"),
			candidate("92", "Rita Moss"),
			candidate("  ", "Jo Brand"),
			candidate("93", "Lee Chan"),
			noEmail,
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 3)
	numbers := []string{}
	for _, invoice := range result.Created {
		assert.Equal(t, domain.StatusDraft, invoice.Status)
		assert.Equal(t, "USD", invoice.Currency)
		assert.Nil(t, invoice.IssuedAt)
		numbers = append(numbers, invoice.InvoiceNumber)
	}
	assert.Equal(t, []string{"CONS-202504-00001", "CONS-202504-00002", "CONS-202504-00003"}, numbers)

	assert.Equal(t, []domain.Skipped{
		{Name: "Alex Doe", Reason: domain.SkipMissingRecipient},
		{Name: "Jo Brand", Reason: domain.SkipMissingRecipient},
		{Name: "Kim Park", Reason: domain.SkipMissingRecipient},
	}, result.Skipped)
	assert.Zero(t, f.historyCount(t, historydomain.EventConsultationIssued))
}

func TestCreateIssuedSchedulesReminders(t *testing.T) {
	f := setup(t)
	invoice := f.createOne(t, true)

	assert.Equal(t, domain.StatusIssued, invoice.Status)
	require.NotNil(t, invoice.IssuedAt)
	require.NotNil(t, invoice.DueAt)
	assert.Equal(t, "2025-05-03", invoice.DueAt.Format("2006-01-02"))

	entries, err := f.reminders.ListByInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventConsultationIssued))
}

func TestCreateRejectsDuplicateConsultation(t *testing.T) {
	f := setup(t)
	first := candidate("91", "Sam Lee")
	first.ConsultationID = "5001"

	result, err := f.svc.Create(context.Background(), domain.CreateRequest{
		PractitionerID: practitionerID,
		Candidates:     []domain.Candidate{first, first},
	})
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, domain.Skipped{ConsultationID: "5001", Name: "Sam Lee", Reason: domain.SkipAlreadyInvoiced}, result.Skipped[0])

	_, err = f.svc.Create(context.Background(), domain.CreateRequest{
		PractitionerID: practitionerID,
		Candidates:     []domain.Candidate{{RecipientID: "91", RecipientName: "x", RecipientEmail: "x@example.com", Amount: 0, Currency: "usd"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestIssueAndUpdateDraft(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.createOne(t, false)

	amount := int64(9500)
	updated, err := f.svc.UpdateDraft(ctx, domain.UpdateDraftRequest{PractitionerID: practitionerID, ID: draft.ID, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(9500), updated.Amount)
	assert.Equal(t, "Follow-up consultation", updated.Description)

	_, err = f.svc.Issue(ctx, domain.IssueRequest{PractitionerID: snowflake.ID(1), ID: draft.ID})
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	issued, err := f.svc.Issue(ctx, domain.IssueRequest{PractitionerID: practitionerID, ID: draft.ID, DueInDays: 14})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, issued.Status)
	assert.Equal(t, "2025-04-17", issued.DueAt.Format("2006-01-02"))

	_, err = f.svc.Issue(ctx, domain.IssueRequest{PractitionerID: practitionerID, ID: draft.ID})
	require.ErrorIs(t, err, domain.ErrNotDraft)
	_, err = f.svc.UpdateDraft(ctx, domain.UpdateDraftRequest{PractitionerID: practitionerID, ID: draft.ID, Amount: &amount})
	require.ErrorIs(t, err, domain.ErrNotDraft)

	entries, err := f.reminders.ListByInvoice(ctx, draft.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCheckoutCompletedMarksPaidOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	invoice := f.createOne(t, true)

	event := checkoutEvent(t, "evt_paid_1", "checkout.session.completed", completedSession(invoice.ID))
	require.NoError(t, f.handler.Handle(ctx, event))

	paid, err := f.svc.Get(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	require.NotNil(t, paid.ExternalPaymentID)
	assert.Equal(t, "pi_1", *paid.ExternalPaymentID)
	require.NotNil(t, paid.CheckoutSessionID)
	assert.Equal(t, "cs_live_1", *paid.CheckoutSessionID)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventConsultationPaid))
	assert.Equal(t, int64(1), f.outboxCount(t))

	duplicate := checkoutEvent(t, "evt_paid_2", "checkout.session.completed", completedSession(invoice.ID))
	require.NoError(t, f.handler.Handle(ctx, duplicate))

	again, err := f.svc.Get(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventConsultationPaid))
	assert.Equal(t, int64(1), f.outboxCount(t))
}

func TestCheckoutEventsThatDoNotPay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	invoice := f.createOne(t, true)

	unknown := checkoutEvent(t, "evt_unknown", "checkout.session.completed", completedSession(snowflake.ID(999)))
	require.NoError(t, f.handler.Handle(ctx, unknown))

	subscriptionMode := completedSession(invoice.ID)
	subscriptionMode["mode"] = "subscription"
	require.NoError(t, f.handler.Handle(ctx, checkoutEvent(t, "evt_sub", "checkout.session.completed", subscriptionMode)))

	unpaid := completedSession(invoice.ID)
	unpaid["payment_status"] = "unpaid"
	require.NoError(t, f.handler.Handle(ctx, checkoutEvent(t, "evt_unpaid", "checkout.session.completed", unpaid)))

	current, err := f.svc.Get(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, current.Status)
	assert.Zero(t, f.historyCount(t, historydomain.EventConsultationPaid))
}

func TestPaymentFailureKeepsStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	invoice := f.createOne(t, true)

	intent := map[string]any{
		"id":                 "pi_failed",
		"status":             "requires_payment_method",
		"metadata":           map[string]string{MetadataInvoiceKey: invoice.ID.String()},
		"last_payment_error": map[string]any{"code": "card_declined", "decline_code": "insufficient_funds"},
	}
	require.NoError(t, f.handler.Handle(ctx, checkoutEvent(t, "evt_pi_failed", "payment_intent.payment_failed", intent)))

	var entry historydomain.BillingHistory
	require.NoError(t, f.db.Where("event_type = ?", historydomain.EventConsultationPaymentFail).Take(&entry).Error)
	assert.Equal(t, "insufficient_funds", entry.Metadata["reason"])
	assert.Equal(t, "pi_failed", entry.Metadata["external_id"])

	current, err := f.svc.Get(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, current.Status)
}

func TestCancelAndOverdueTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cancelled := f.createOne(t, true)
	overdue := f.createOne(t, true)
	draft := f.createOne(t, false)

	_, err := f.svc.Cancel(ctx, practitionerID, cancelled.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(ctx, domain.MarkPaidInput{EventID: "evt_late", InvoiceID: cancelled.ID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NoError(t, f.handler.Handle(ctx, checkoutEvent(t, "evt_late", "checkout.session.completed", completedSession(cancelled.ID))))
	_, err = f.svc.Cancel(ctx, practitionerID, draft.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.clk.Advance(31 * 24 * time.Hour)
	summary, err := f.svc.MarkOverdue(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Marked)

	current, err := f.svc.Get(ctx, practitionerID, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, current.Status)
	require.NotNil(t, current.OverdueAt)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventConsultationOverdue))
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventConsultationCancelled))

	result, err := f.svc.MarkPaid(ctx, domain.MarkPaidInput{EventID: "evt_overdue_paid", InvoiceID: overdue.ID})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, domain.StatusPaid, result.Invoice.Status)
}

func TestCreateCheckoutSessionRequiresConnectedAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	invoice := f.createOne(t, true)
	draft := f.createOne(t, false)

	_, err := f.svc.CreateCheckoutSession(ctx, practitionerID, invoice.ID)
	require.ErrorIs(t, err, domain.ErrAccountNotReady)

	require.NoError(t, f.settings.AttachConnectedAccount(ctx, nil, practitionerID, "acct_clinic"))
	_, err = f.settings.ApplyAccountStatus(ctx, nil, settingsdomain.AccountStatus{AccountID: "acct_clinic", ChargesEnabled: true, DetailsSubmitted: true})
	require.NoError(t, err)

	_, err = f.svc.CreateCheckoutSession(ctx, practitionerID, draft.ID)
	require.ErrorIs(t, err, domain.ErrNotPayable)

	session, err := f.svc.CreateCheckoutSession(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_test_1", session.URL)

	require.Len(t, f.processor.inputs, 1)
	input := f.processor.inputs[0]
	assert.Equal(t, "acct_clinic", input.AccountID)
	assert.Equal(t, invoice.ID.String(), input.InvoiceID)
	assert.Equal(t, int64(8000), input.Amount)
	assert.NotEmpty(t, input.IdempotencyKey)

	stored, err := f.svc.Get(ctx, practitionerID, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CheckoutURL)
	assert.Equal(t, session.URL, *stored.CheckoutURL)
}

func TestListPaginatesByPractitioner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.createOne(t, false)
		f.clk.Advance(time.Minute)
	}

	page, err := f.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}, PractitionerID: practitionerID})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "CONS-202504-00003", page.Invoices[0].InvoiceNumber)

	next, err := f.svc.List(ctx, domain.ListRequest{
		Pagination:     pagination.Pagination{PageToken: page.NextPageToken, PageSize: 2},
		PractitionerID: practitionerID,
	})
	require.NoError(t, err)
	require.Len(t, next.Invoices, 1)
	assert.False(t, next.HasMore)

	other, err := f.svc.List(ctx, domain.ListRequest{PractitionerID: snowflake.ID(1)})
	require.NoError(t, err)
	assert.Empty(t, other.Invoices)

	_, err = f.svc.Get(ctx, snowflake.ID(1), page.Invoices[0].ID)
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}
