package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	stripeadapter "github.com/smallbiznis/clinicledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// MetadataInvoiceKey is set on checkout sessions and payment intents created for
// consultation invoices.
const MetadataInvoiceKey = "consultation_invoice_id"

// EventHandler applies patient checkout outcomes to consultation invoices.
type EventHandler struct {
	svc domain.Service
	log *zap.Logger
}

func NewEventHandler(svc domain.Service, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log.Named("consultationinvoice.handler")}
}

func (h *EventHandler) Name() string { return "consultation_invoice" }

func (h *EventHandler) EventTypes() []string {
	return []string{
		string(stripego.EventTypeCheckoutSessionCompleted),
		string(stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded),
		string(stripego.EventTypeCheckoutSessionAsyncPaymentFailed),
		string(stripego.EventTypePaymentIntentPaymentFailed),
	}
}

func (h *EventHandler) Handle(ctx context.Context, event paymentdomain.Event) error {
	switch stripego.EventType(event.Type) {
	case stripego.EventTypePaymentIntentPaymentFailed:
		return h.handleIntentFailed(ctx, event)
	default:
		return h.handleCheckout(ctx, event)
	}
}

func (h *EventHandler) handleCheckout(ctx context.Context, event paymentdomain.Event) error {
	var obj stripeadapter.CheckoutSession
	if err := event.Decode(&obj); err != nil {
		return err
	}
	if obj.Mode != "" && obj.Mode != string(stripego.CheckoutSessionModePayment) {
		return nil
	}
	invoiceID, ok := h.invoiceID(event, obj.Metadata)
	if !ok {
		return nil
	}

	if stripego.EventType(event.Type) == stripego.EventTypeCheckoutSessionAsyncPaymentFailed {
		return h.ignoreUnknown(event, invoiceID, h.svc.RecordPaymentFailure(ctx, domain.PaymentFailureInput{
			EventID:    event.ID,
			InvoiceID:  invoiceID,
			Source:     event.Type,
			ExternalID: obj.ID,
			Reason:     "async_payment_failed",
		}))
	}

	// Delayed methods complete the session unpaid and settle with a later event.
	if obj.PaymentStatus == string(stripego.CheckoutSessionPaymentStatusUnpaid) {
		h.log.Debug("checkout completed awaiting payment",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", invoiceID.String()),
		)
		return nil
	}

	result, err := h.svc.MarkPaid(ctx, domain.MarkPaidInput{
		EventID:           event.ID,
		InvoiceID:         invoiceID,
		CheckoutSessionID: obj.ID,
		PaymentIntentID:   obj.PaymentIntent.ID,
		AmountTotal:       obj.AmountTotal,
		Currency:          obj.Currency,
		PaidAt:            event.Created,
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		h.log.Error("payment received for invoice that cannot be paid",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
		return nil
	}
	if err := h.ignoreUnknown(event, invoiceID, err); err != nil {
		return err
	}
	if result.Invoice != nil && !result.Changed {
		h.log.Debug("invoice already paid", zap.String("invoice_id", invoiceID.String()))
	}
	return nil
}

func (h *EventHandler) handleIntentFailed(ctx context.Context, event paymentdomain.Event) error {
	var obj stripeadapter.PaymentIntent
	if err := event.Decode(&obj); err != nil {
		return err
	}
	invoiceID, ok := h.invoiceID(event, obj.Metadata)
	if !ok {
		return nil
	}
	return h.ignoreUnknown(event, invoiceID, h.svc.RecordPaymentFailure(ctx, domain.PaymentFailureInput{
		EventID:    event.ID,
		InvoiceID:  invoiceID,
		Source:     event.Type,
		ExternalID: obj.ID,
		Reason:     obj.FailureReason(),
	}))
}

func (h *EventHandler) invoiceID(event paymentdomain.Event, metadata map[string]string) (snowflake.ID, bool) {
	raw := stripeadapter.MetadataValue(metadata, MetadataInvoiceKey)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		h.log.Warn("malformed invoice id in metadata",
			zap.String("event_id", event.ID),
			zap.String("value", raw),
		)
		return 0, false
	}
	return id, true
}

// ignoreUnknown treats metadata pointing at a missing invoice as processed.
// Retrying cannot make the invoice appear.
func (h *EventHandler) ignoreUnknown(event paymentdomain.Event, invoiceID snowflake.ID, err error) error {
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		h.log.Warn("event references unknown consultation invoice",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("invoice_id", invoiceID.String()),
		)
		return nil
	}
	return err
}

var _ paymentdomain.Handler = (*EventHandler)(nil)
