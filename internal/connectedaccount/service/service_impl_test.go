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
	"github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	paymentprovider "github.com/smallbiznis/clinicledger/internal/providers/payment"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const practitionerID = snowflake.ID(610)

type fakeProcessor struct {
	account       paymentprovider.Account
	createdInputs []paymentprovider.CreateAccountInput
	linkedFor     []string
}

func (f *fakeProcessor) GetAccount(ctx context.Context, accountID string) (paymentprovider.Account, error) {
	acct := f.account
	acct.ID = accountID
	return acct, nil
}

func (f *fakeProcessor) CreateExpressAccount(ctx context.Context, input paymentprovider.CreateAccountInput) (paymentprovider.Account, error) {
	f.createdInputs = append(f.createdInputs, input)
	return paymentprovider.Account{ID: "acct_created"}, nil
}

func (f *fakeProcessor) CreateOnboardingLink(ctx context.Context, accountID string) (paymentprovider.OnboardingLink, error) {
	f.linkedFor = append(f.linkedFor, accountID)
	return paymentprovider.OnboardingLink{URL: "https://connect.test/" + accountID}, nil
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, input paymentprovider.CheckoutInput) (paymentprovider.CheckoutSession, error) {
	return paymentprovider.CheckoutSession{}, nil
}

type fixture struct {
	db        *gorm.DB
	svc       domain.Service
	settings  settingsdomain.Service
	processor *fakeProcessor
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	settings := settingsservice.NewService(settingsservice.Params{DB: db, Log: log, Clock: clk, Repo: settingsrepo.Provide()})
	history := historyservice.NewService(historyservice.Params{
		DB: db, Log: log, GenID: testutil.Node(t), Clock: clk, Repo: historyrepo.Provide(),
	})
	processor := &fakeProcessor{}
	svc := NewService(Params{DB: db, Log: log, SettingsSvc: settings, HistorySvc: history, Processor: processor})
	return fixture{db: db, svc: svc, settings: settings, processor: processor}
}

func (f fixture) historyCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&historydomain.BillingHistory{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestSyncRecordsOnboardingOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.settings.AttachConnectedAccount(ctx, nil, practitionerID, "acct_1"))

	for i := 0; i < 2; i++ {
		result, err := f.svc.Sync(ctx, domain.SyncInput{EventID: "evt_" + string(rune('a'+i)), AccountID: "acct_1", ChargesEnabled: true, DetailsSubmitted: true})
		require.NoError(t, err)
		assert.True(t, result.Matched)
		assert.Equal(t, i == 0, result.Onboarded)
	}
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventAccountOnboarded))
}

func TestDeauthorizeThenUpdateIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.settings.AttachConnectedAccount(ctx, nil, practitionerID, "acct_1"))
	_, err := f.svc.Sync(ctx, domain.SyncInput{AccountID: "acct_1", ChargesEnabled: true, DetailsSubmitted: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.Deauthorize(ctx, "evt_deauth", "acct_1"))

	stored, err := f.settings.Get(ctx, nil, practitionerID)
	require.NoError(t, err)
	assert.Nil(t, stored.ConnectedAccountID)
	assert.False(t, stored.OnboardingCompleted)
	assert.False(t, stored.ChargesEnabled)
	assert.False(t, stored.DetailsSubmitted)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventAccountDeauthorized))

	result, err := f.svc.Sync(ctx, domain.SyncInput{AccountID: "acct_1", ChargesEnabled: true, DetailsSubmitted: true})
	require.NoError(t, err)
	assert.False(t, result.Matched)

	stored, err = f.settings.Get(ctx, nil, practitionerID)
	require.NoError(t, err)
	assert.False(t, stored.ChargesEnabled)

	require.NoError(t, f.svc.Deauthorize(ctx, "evt_deauth_again", "acct_1"))
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventAccountDeauthorized))
}

func TestStartOnboardingCreatesAccountOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	link, err := f.svc.StartOnboarding(ctx, domain.StartOnboardingInput{PractitionerID: practitionerID, Email: "dr@clinic.test", Country: "us"})
	require.NoError(t, err)
	assert.Equal(t, "https://connect.test/acct_created", link.URL)
	require.Len(t, f.processor.createdInputs, 1)
	assert.Equal(t, "US", f.processor.createdInputs[0].Country)

	_, err = f.svc.StartOnboarding(ctx, domain.StartOnboardingInput{PractitionerID: practitionerID})
	require.NoError(t, err)
	assert.Len(t, f.processor.createdInputs, 1)
	assert.Equal(t, []string{"acct_created", "acct_created"}, f.processor.linkedFor)
}

func TestRefreshPullsAccountStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, practitionerID)
	require.ErrorIs(t, err, domain.ErrNotConnected)

	require.NoError(t, f.settings.AttachConnectedAccount(ctx, nil, practitionerID, "acct_1"))
	f.processor.account = paymentprovider.Account{ChargesEnabled: true, DetailsSubmitted: true}

	settings, err := f.svc.Refresh(ctx, practitionerID)
	require.NoError(t, err)
	assert.True(t, settings.OnboardingCompleted)
	assert.NotNil(t, settings.ConnectedAt)
	assert.Equal(t, int64(1), f.historyCount(t, historydomain.EventAccountOnboarded))
}

func TestHandlerRoutesAccountEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.settings.AttachConnectedAccount(ctx, nil, practitionerID, "acct_1"))
	handler := NewEventHandler(f.svc, zap.NewNop())

	object, err := json.Marshal(map[string]any{"id": "acct_1", "object": "account", "charges_enabled": true, "details_submitted": false})
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, paymentdomain.Event{ID: "evt_1", Type: "account.updated", Account: "acct_1", Object: object}))

	stored, err := f.settings.Get(ctx, nil, practitionerID)
	require.NoError(t, err)
	assert.True(t, stored.ChargesEnabled)
	assert.False(t, stored.OnboardingCompleted)

	require.NoError(t, handler.Handle(ctx, paymentdomain.Event{ID: "evt_2", Type: "account.application.deauthorized", Account: "acct_1", Object: json.RawMessage(`{"id":"ca_1","object":"application"}`)}))
	stored, err = f.settings.Get(ctx, nil, practitionerID)
	require.NoError(t, err)
	assert.Nil(t, stored.ConnectedAccountID)
}
