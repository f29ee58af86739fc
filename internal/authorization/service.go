package authorization

import (
	"context"
	"errors"
)

const (
	ObjectReminders            = "reminders"
	ObjectOutbox               = "outbox"
	ObjectEvents               = "events"
	ObjectConsultationInvoices = "consultation_invoices"
)

const (
	ActionRemindersProcess  = "process"
	ActionRemindersSchedule = "schedule"
	ActionOutboxDrain       = "drain"
	ActionEventsReplay      = "replay"
	ActionInvoicesOverdue   = "mark_overdue"
)

// Actor kinds accepted by Authorize, written "<kind>" or "<kind>:<name>".
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
	ActorOperator  = "operator"
)

type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
