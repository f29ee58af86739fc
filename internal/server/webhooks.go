package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every delivery the processor should not
// resend: processed, duplicate and unhandled events all answer 200.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.paymentSvc.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		AbortWithError(c, webhookError(outcome, err))
		return
	}

	c.Set("webhook_outcome", string(outcome))
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// webhookError keeps client statuses for deliveries rejected before dispatch.
// Anything raised while handling a verified event is a 500, whatever
// sentinel the handler wrapped.
func webhookError(outcome paymentdomain.Outcome, err error) error {
	switch {
	case outcome == paymentdomain.OutcomeFailed:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrEventInFlight):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

type replayEventRequest struct {
	Provider string `json:"provider" validate:"omitempty,oneof=stripe"`
	EventID  string `json:"event_id" validate:"required"`
}

func (s *Server) ReplayEvent(c *gin.Context) {
	var req replayEventRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), internalActor(c), authorization.ObjectEvents, authorization.ActionEventsReplay); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Provider == "" {
		req.Provider = paymentdomain.ProviderStripe
	}

	outcome, err := s.paymentSvc.Replay(c.Request.Context(), req.Provider, req.EventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
