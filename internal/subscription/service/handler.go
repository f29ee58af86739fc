package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	stripeadapter "github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// EventHandler feeds customer.subscription.* events into the reconciler.
type EventHandler struct {
	svc subscriptiondomain.Service
	log *zap.Logger
}

func NewEventHandler(svc subscriptiondomain.Service, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log.Named("subscription.handler")}
}

func (h *EventHandler) Name() string { return "subscription" }

func (h *EventHandler) EventTypes() []string {
	return []string{
		string(stripego.EventTypeCustomerSubscriptionCreated),
		string(stripego.EventTypeCustomerSubscriptionUpdated),
		string(stripego.EventTypeCustomerSubscriptionDeleted),
	}
}

func (h *EventHandler) Handle(ctx context.Context, event paymentdomain.Event) error {
	var obj stripeadapter.Subscription
	if err := event.Decode(&obj); err != nil {
		return err
	}

	input, err := buildReconcileInput(event, obj)
	if err != nil {
		h.log.Warn("subscription event rejected",
			zap.String("event_id", event.ID),
			zap.String("external_subscription_id", obj.ID),
			zap.Error(err),
		)
		return err
	}

	result, err := h.svc.Reconcile(ctx, input)
	if err != nil {
		return err
	}
	if result.Stale {
		h.log.Debug("stale subscription event", zap.String("event_id", event.ID))
	}
	return nil
}

func buildReconcileInput(event paymentdomain.Event, obj stripeadapter.Subscription) (subscriptiondomain.ReconcileInput, error) {
	input := subscriptiondomain.ReconcileInput{
		EventID:                event.ID,
		EventAt:                event.Created,
		ExternalSubscriptionID: obj.ID,
		ExternalCustomerID:     obj.Customer.ID,
		RawStatus:              obj.Status,
		TrialEnd:               stripeadapter.UnixPtr(obj.TrialEnd),
		CancelAtPeriodEnd:      obj.CancelAtPeriodEnd,
	}
	input.CurrentPeriodStart, input.CurrentPeriodEnd = obj.Period()

	switch stripego.EventType(event.Type) {
	case stripego.EventTypeCustomerSubscriptionCreated:
		input.Kind = subscriptiondomain.EventKindCreated
	case stripego.EventTypeCustomerSubscriptionDeleted:
		input.Kind = subscriptiondomain.EventKindDeleted
	default:
		input.Kind = subscriptiondomain.EventKindUpdated
	}

	if raw := stripeadapter.MetadataValue(obj.Metadata, "practitioner_id"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return input, subscriptiondomain.ErrInvalidPractitioner
		}
		input.PractitionerID = id
	}

	input.PlanName = stripeadapter.MetadataValue(obj.Metadata, "plan_name", "plan")
	if item, ok := obj.FirstItem(); ok {
		if input.PlanName == "" {
			input.PlanName = firstNonEmpty(item.Price.Nickname, item.Price.LookupKey)
		}
		if item.Price.Recurring != nil && strings.TrimSpace(item.Price.Recurring.Interval) != "" {
			cycle, err := subscriptiondomain.ParseBillingCycle(item.Price.Recurring.Interval)
			if err != nil {
				return input, err
			}
			input.BillingCycle = cycle
		}
	}
	return input, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

var _ paymentdomain.Handler = (*EventHandler)(nil)
