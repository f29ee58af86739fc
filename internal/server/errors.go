package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/clinicledger/internal/authorization"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	accountdomain "github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	invoicedomain "github.com/smallbiznis/clinicledger/internal/consultationinvoice/domain"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	platforminvoicedomain "github.com/smallbiznis/clinicledger/internal/platforminvoice/domain"
	reminderdomain "github.com/smallbiznis/clinicledger/internal/reminder/domain"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationErrs are domain errors caused by the caller's input.
var validationErrs = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	invoicedomain.ErrInvalidPractitioner,
	invoicedomain.ErrInvalidInvoice,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidCurrency,
	invoicedomain.ErrInvalidPageToken,
	historydomain.ErrInvalidPractitioner,
	historydomain.ErrInvalidEventType,
	historydomain.ErrInvalidPageToken,
	settingsdomain.ErrInvalidPractitioner,
	settingsdomain.ErrInvalidOffset,
	settingsdomain.ErrInvalidTemplate,
	settingsdomain.ErrInvalidAccount,
	accountdomain.ErrInvalidAccount,
	platforminvoicedomain.ErrInvalidPractitioner,
	platforminvoicedomain.ErrInvalidPageToken,
	subscriptiondomain.ErrInvalidPractitioner,
	reminderdomain.ErrInvalidInvoice,
	reminderdomain.ErrInvalidPractitioner,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
}

var notFoundErrs = []error{
	ErrNotFound,
	gorm.ErrRecordNotFound,
	invoicedomain.ErrInvoiceNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	subscriptiondomain.ErrPlanNotFound,
	accountdomain.ErrNotConnected,
	paymentdomain.ErrEventNotFound,
	paymentdomain.ErrProviderNotFound,
}

var conflictErrs = []error{
	ErrConflict,
	paymentdomain.ErrEventInFlight,
	paymentdomain.ErrEventAlreadyProcessed,
	invoicedomain.ErrInvalidTransition,
	invoicedomain.ErrNotDraft,
	invoicedomain.ErrNotPayable,
	invoicedomain.ErrAccountNotReady,
	settingsdomain.ErrAccountAlreadyLinked,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case matchesAny(err, validationErrs):
		code := domainCode(err, validationErrs)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case matchesAny(err, conflictErrs):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: domainCode(err, conflictErrs),
		}
	case matchesAny(err, notFoundErrs):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if status == http.StatusConflict {
		code = payload.Message
	}
	return payload.Type, code
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// domainCode returns the sentinel's snake_case text rather than the wrapped message.
func domainCode(err error, targets []error) string {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
		for _, fe := range fieldErrs {
			out.Errors = append(out.Errors, ValidationError{
				Field:   fieldPath(fe),
				Code:    fe.Tag(),
				Message: "invalid value",
			})
		}
		return out
	}
	return nil
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
