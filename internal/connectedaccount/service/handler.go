package service

import (
	"context"

	"github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	stripeadapter "github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type EventHandler struct {
	svc domain.Service
	log *zap.Logger
}

func NewEventHandler(svc domain.Service, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log.Named("connectedaccount.handler")}
}

func (h *EventHandler) Name() string { return "connected_account" }

func (h *EventHandler) EventTypes() []string {
	return []string{
		string(stripego.EventTypeAccountUpdated),
		string(stripego.EventTypeAccountApplicationDeauthorized),
	}
}

func (h *EventHandler) Handle(ctx context.Context, event paymentdomain.Event) error {
	switch stripego.EventType(event.Type) {
	case stripego.EventTypeAccountUpdated:
		var obj stripeadapter.Account
		if err := event.Decode(&obj); err != nil {
			return err
		}
		accountID := event.Account
		if accountID == "" {
			accountID = obj.ID
		}
		_, err := h.svc.Sync(ctx, domain.SyncInput{
			EventID:          event.ID,
			AccountID:        accountID,
			ChargesEnabled:   obj.ChargesEnabled,
			DetailsSubmitted: obj.DetailsSubmitted,
		})
		return err
	case stripego.EventTypeAccountApplicationDeauthorized:
		if event.Account == "" {
			h.log.Warn("deauthorization without account", zap.String("event_id", event.ID))
			return nil
		}
		return h.svc.Deauthorize(ctx, event.ID, event.Account)
	}
	return nil
}

var _ paymentdomain.Handler = (*EventHandler)(nil)
