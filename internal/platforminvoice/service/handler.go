package service

import (
	"context"

	stripeadapter "github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	"github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// EventHandler records platform subscription invoices. Invoices raised on a
// practitioner's connected account belong to their patients and are skipped.
type EventHandler struct {
	svc domain.Service
	log *zap.Logger
}

func NewEventHandler(svc domain.Service, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log.Named("platforminvoice.handler")}
}

func (h *EventHandler) Name() string { return "platform_invoice" }

func (h *EventHandler) EventTypes() []string {
	return []string{
		string(stripego.EventTypeInvoicePaid),
		string(stripego.EventTypeInvoicePaymentFailed),
	}
}

func (h *EventHandler) Handle(ctx context.Context, event paymentdomain.Event) error {
	if event.Account != "" {
		return nil
	}

	var obj stripeadapter.Invoice
	if err := event.Decode(&obj); err != nil {
		return err
	}
	subscriptionID := obj.SubscriptionID()
	if subscriptionID == "" {
		h.log.Debug("invoice without subscription ignored",
			zap.String("event_id", event.ID),
			zap.String("external_invoice_id", obj.ID),
		)
		return nil
	}

	switch stripego.EventType(event.Type) {
	case stripego.EventTypeInvoicePaid:
		result, err := h.svc.RecordPaid(ctx, paidInput(event, obj, subscriptionID))
		if err != nil {
			return err
		}
		if !result.Inserted && !result.Changed {
			h.log.Debug("invoice already recorded as paid", zap.String("external_invoice_id", obj.ID))
		}
		return nil
	case stripego.EventTypeInvoicePaymentFailed:
		return h.svc.RecordPaymentFailed(ctx, domain.RecordPaymentFailedInput{
			EventID:                event.ID,
			ExternalInvoiceID:      obj.ID,
			ExternalSubscriptionID: subscriptionID,
			AttemptCount:           obj.AttemptCount,
			AmountDue:              obj.AmountDue,
			Currency:               obj.Currency,
			EventAt:                event.Created,
		})
	}
	return nil
}

func paidInput(event paymentdomain.Event, obj stripeadapter.Invoice, subscriptionID string) domain.RecordPaidInput {
	subtotal, tax := obj.LineAmounts()
	input := domain.RecordPaidInput{
		EventID:                event.ID,
		ExternalInvoiceID:      obj.ID,
		ExternalSubscriptionID: subscriptionID,
		Currency:               obj.Currency,
		SubtotalAmount:         subtotal,
		TaxAmount:              tax,
		InvoiceDate:            event.Created,
		PaidAt:                 event.Created,
		HostedInvoiceURL:       obj.HostedInvoiceURL,
	}
	if created := stripeadapter.UnixPtr(obj.Created); created != nil {
		input.InvoiceDate = *created
	}
	if paidAt := stripeadapter.UnixPtr(obj.StatusTransitions.PaidAt); paidAt != nil {
		input.PaidAt = *paidAt
	}
	// Zero dates fall back to the service clock in RecordPaid.
	return input
}

var _ paymentdomain.Handler = (*EventHandler)(nil)
