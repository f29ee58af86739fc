package service

import (
	"context"
	"testing"
	"time"

	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	historyrepo "github.com/smallbiznis/clinicledger/internal/billinghistory/repository"
	historyservice "github.com/smallbiznis/clinicledger/internal/billinghistory/service"
	"github.com/smallbiznis/clinicledger/internal/clock"
	stripeadapter "github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"github.com/smallbiznis/clinicledger/internal/subscription/repository"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const practitionerID = 4242

var baseTime = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*gorm.DB, subscriptiondomain.Service) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(baseTime)
	history := historyservice.NewService(historyservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  historyrepo.Provide(),
	})
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		HistorySvc: history,
	})
	return db, svc
}

func createdInput(externalID string, status string, at time.Time) subscriptiondomain.ReconcileInput {
	return subscriptiondomain.ReconcileInput{
		EventID:                "evt_" + externalID + "_" + status,
		Kind:                   subscriptiondomain.EventKindCreated,
		EventAt:                at,
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     "cus_1",
		PractitionerID:         practitionerID,
		PlanName:               "starter",
		BillingCycle:           subscriptiondomain.BillingCycleMonthly,
		RawStatus:              status,
	}
}

func historyTypes(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var rows []historydomain.BillingHistory
	require.NoError(t, db.Order("created_at asc, id asc").Find(&rows).Error)
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestReconcileCreatesAndUpdates(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	result, err := svc.Reconcile(ctx, createdInput("sub_1", "trialing", baseTime))
	require.NoError(t, err)
	assert.True(t, result.Inserted)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, result.Subscription.Status)

	update := createdInput("sub_1", "active", baseTime.Add(time.Hour))
	update.Kind = subscriptiondomain.EventKindUpdated
	update.PlanName = "professional"
	update.BillingCycle = subscriptiondomain.BillingCycleYearly
	result, err = svc.Reconcile(ctx, update)
	require.NoError(t, err)
	assert.False(t, result.Inserted)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, result.PreviousStatus)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.Subscription.Status)
	assert.Equal(t, subscriptiondomain.BillingCycleYearly, result.Subscription.BillingCycle)

	active, err := svc.GetActive(ctx, practitionerID)
	require.NoError(t, err)
	assert.Equal(t, "professional", active.Plan.Name)
	assert.Equal(t, "sub_1", active.ExternalSubscriptionID)

	assert.Equal(t, []string{
		historydomain.EventSubscriptionCreated,
		historydomain.EventSubscriptionUpdated,
	}, historyTypes(t, db))
}

func TestReconcileIgnoresStaleEvent(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, createdInput("sub_1", "active", baseTime.Add(time.Hour)))
	require.NoError(t, err)

	older := createdInput("sub_1", "past_due", baseTime)
	older.Kind = subscriptiondomain.EventKindUpdated
	result, err := svc.Reconcile(ctx, older)
	require.NoError(t, err)
	assert.True(t, result.Stale)

	var stored subscriptiondomain.Subscription
	require.NoError(t, db.Where("external_subscription_id = ?", "sub_1").Take(&stored).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, []string{
		historydomain.EventSubscriptionCreated,
		historydomain.EventSubscriptionStaleIgnored,
	}, historyTypes(t, db))
}

func TestReconcileUnknownStatusFallsBackToActive(t *testing.T) {
	db, svc := setupService(t)

	result, err := svc.Reconcile(context.Background(), createdInput("sub_1", "suspended_by_magic", baseTime))
	require.NoError(t, err)
	assert.True(t, result.StatusFallback)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.Subscription.Status)

	var entry historydomain.BillingHistory
	require.NoError(t, db.Take(&entry).Error)
	assert.Equal(t, true, entry.Metadata["status_fallback"])
	assert.Equal(t, "suspended_by_magic", entry.Metadata["raw_status"])
}

func TestReconcileRejectsInvalidTransition(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, createdInput("sub_1", "active", baseTime))
	require.NoError(t, err)

	deleted := createdInput("sub_1", "canceled", baseTime.Add(time.Hour))
	deleted.Kind = subscriptiondomain.EventKindDeleted
	_, err = svc.Reconcile(ctx, deleted)
	require.NoError(t, err)

	revive := createdInput("sub_1", "active", baseTime.Add(2*time.Hour))
	revive.Kind = subscriptiondomain.EventKindUpdated
	_, err = svc.Reconcile(ctx, revive)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestReconcileDeletedOnlyCancels(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	created := createdInput("sub_1", "active", baseTime)
	created.CancelAtPeriodEnd = true
	_, err := svc.Reconcile(ctx, created)
	require.NoError(t, err)

	deleted := subscriptiondomain.ReconcileInput{
		EventID:                "evt_deleted",
		Kind:                   subscriptiondomain.EventKindDeleted,
		EventAt:                baseTime.Add(time.Hour),
		ExternalSubscriptionID: "sub_1",
		RawStatus:              "canceled",
	}
	result, err := svc.Reconcile(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, result.Subscription.Status)

	var stored subscriptiondomain.Subscription
	require.NoError(t, db.Where("external_subscription_id = ?", "sub_1").Take(&stored).Error)
	assert.Equal(t, subscriptiondomain.BillingCycleMonthly, stored.BillingCycle)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, stored.Status)

	_, err = svc.GetActive(ctx, practitionerID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	// a second deletion of an already canceled subscription writes nothing
	deleted.EventID = "evt_deleted_again"
	deleted.EventAt = baseTime.Add(2 * time.Hour)
	_, err = svc.Reconcile(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, []string{
		historydomain.EventSubscriptionCreated,
		historydomain.EventSubscriptionCanceled,
	}, historyTypes(t, db))
}

func TestReconcileReplacesLiveSubscriptionInPlace(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, createdInput("sub_old", "active", baseTime))
	require.NoError(t, err)

	second, err := svc.Reconcile(ctx, createdInput("sub_new", "active", baseTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)
	assert.Equal(t, "sub_new", second.Subscription.ExternalSubscriptionID)

	var count int64
	require.NoError(t, db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReconcileRequiresKnownPlan(t *testing.T) {
	_, svc := setupService(t)
	input := createdInput("sub_1", "active", baseTime)
	input.PlanName = "enterprise"
	_, err := svc.Reconcile(context.Background(), input)
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanNotFound)
}

func TestMarkPastDue(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, createdInput("sub_1", "active", baseTime))
	require.NoError(t, err)

	result, err := svc.MarkPastDue(ctx, db, subscriptiondomain.MarkPastDueInput{
		ExternalSubscriptionID: "sub_1",
		EventID:                "evt_fail",
		EventAt:                baseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.PreviousStatus)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, result.Subscription.Status)

	result, err = svc.MarkPastDue(ctx, db, subscriptiondomain.MarkPastDueInput{
		ExternalSubscriptionID: "sub_1",
		EventAt:                baseTime.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, result.Changed)

	_, err = svc.MarkPastDue(ctx, db, subscriptiondomain.MarkPastDueInput{ExternalSubscriptionID: "sub_missing"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]struct {
		want     subscriptiondomain.SubscriptionStatus
		fallback bool
	}{
		"trialing":           {subscriptiondomain.SubscriptionStatusTrialing, false},
		"active":             {subscriptiondomain.SubscriptionStatusActive, false},
		"past_due":           {subscriptiondomain.SubscriptionStatusPastDue, false},
		"canceled":           {subscriptiondomain.SubscriptionStatusCanceled, false},
		"incomplete":         {subscriptiondomain.SubscriptionStatusIncomplete, false},
		"incomplete_expired": {subscriptiondomain.SubscriptionStatusCanceled, false},
		"unpaid":             {subscriptiondomain.SubscriptionStatusPastDue, false},
		"paused":             {subscriptiondomain.SubscriptionStatusActive, false},
		"mystery":            {subscriptiondomain.SubscriptionStatusActive, true},
	}
	for raw, tt := range tests {
		got, fallback := subscriptiondomain.MapStatus(raw)
		assert.Equal(t, tt.want, got, raw)
		assert.Equal(t, tt.fallback, fallback, raw)
	}
}

func TestBuildReconcileInputFromStripeObject(t *testing.T) {
	event := paymentdomain.Event{
		ID:      "evt_1",
		Type:    "customer.subscription.updated",
		Created: baseTime,
		Object: []byte(`{
			"id": "sub_1",
			"status": "active",
			"customer": "cus_9",
			"metadata": {"practitioner_id": "4242"},
			"items": {"data": [{"price": {"nickname": "Professional", "recurring": {"interval": "year"}}}]}
		}`),
	}
	handler := NewEventHandler(nil, zap.NewNop())
	assert.Len(t, handler.EventTypes(), 3)

	input, err := buildReconcileInputForTest(event)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.EventKindUpdated, input.Kind)
	assert.Equal(t, "Professional", input.PlanName)
	assert.Equal(t, subscriptiondomain.BillingCycleYearly, input.BillingCycle)
	assert.EqualValues(t, 4242, input.PractitionerID)
	assert.Equal(t, "cus_9", input.ExternalCustomerID)

	event.Object = []byte(`{"id":"sub_1","items":{"data":[{"price":{"recurring":{"interval":"week"}}}]}}`)
	_, err = buildReconcileInputForTest(event)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidBillingCycle)
}

func buildReconcileInputForTest(event paymentdomain.Event) (subscriptiondomain.ReconcileInput, error) {
	var obj stripeadapter.Subscription
	if err := event.Decode(&obj); err != nil {
		return subscriptiondomain.ReconcileInput{}, err
	}
	return buildReconcileInput(event, obj)
}
