package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/clinicledger/internal/config"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	outboxdomain "github.com/smallbiznis/clinicledger/internal/outbox/domain"
	"github.com/smallbiznis/clinicledger/internal/providers/email"
	"go.uber.org/zap"
)

// PaymentConfirmationHandler emails the patient once their invoice is paid.
// It only reads the outbox payload; a failed send never touches the invoice.
type PaymentConfirmationHandler struct {
	sender    email.Sender
	templates *config.ReminderConfigHolder
	log       *zap.Logger
}

func NewPaymentConfirmationHandler(sender email.Sender, templates *config.ReminderConfigHolder, log *zap.Logger) *PaymentConfirmationHandler {
	return &PaymentConfirmationHandler{
		sender:    sender,
		templates: templates,
		log:       log.Named("notification.payment_confirmation"),
	}
}

func (h *PaymentConfirmationHandler) Topic() string {
	return invoicedomain.TopicPaymentConfirmation
}

func (h *PaymentConfirmationHandler) Handle(ctx context.Context, msg outboxdomain.Message) error {
	var payload invoicedomain.PaymentConfirmation
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", outboxdomain.ErrInvalidPayload, err)
	}

	cfg := h.templates.Get()
	paidAt := payload.PaidAt
	rendered, err := Render(cfg.ConfirmationMail, Data{
		InvoiceNumber:    payload.InvoiceNumber,
		PractitionerName: payload.PractitionerName,
		RecipientName:    payload.RecipientName,
		Amount:           FormatMoney(payload.Amount, payload.Currency),
		DueDate:          FormatDate(&paidAt),
	})
	if err != nil {
		return err
	}

	err = h.sender.Send(ctx, email.Message{
		To:      payload.RecipientEmail,
		From:    cfg.From,
		ReplyTo: payload.ReplyTo,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return err
	}
	h.log.Info("payment confirmation sent",
		zap.String("invoice_id", payload.InvoiceID.String()),
		zap.String("invoice_number", payload.InvoiceNumber),
	)
	return nil
}

var _ outboxdomain.Handler = (*PaymentConfirmationHandler)(nil)
