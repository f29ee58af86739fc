package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/clock"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	"github.com/smallbiznis/clinicledger/internal/observability/metrics"
	"github.com/smallbiznis/clinicledger/internal/observability/tracing"
	"github.com/smallbiznis/clinicledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/clinicledger/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	dispatchLease     = 2 * time.Minute
	maxLastErrorChars = 1024
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	Handlers []paymentdomain.Handler `group:"payment.handlers"`
	Metrics  *metrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	handlers map[string][]paymentdomain.Handler
	metrics  *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	svc := &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		adapters: p.Adapters,
		handlers: map[string][]paymentdomain.Handler{},
		metrics:  p.Metrics,
	}
	for _, handler := range p.Handlers {
		if handler == nil {
			continue
		}
		for _, eventType := range handler.EventTypes() {
			eventType = strings.TrimSpace(eventType)
			if eventType == "" {
				continue
			}
			svc.handlers[eventType] = append(svc.handlers[eventType], handler)
		}
	}
	for eventType := range svc.handlers {
		hs := svc.handlers[eventType]
		sort.SliceStable(hs, func(i, j int) bool { return hs[i].Name() < hs[j].Name() })
	}
	return svc
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	verifier, err := s.adapters.Verifier(provider)
	if err != nil {
		return "", err
	}

	event, err := verifier.Verify(payload, headers)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	lockedUntil := now.Add(dispatchLease)
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
		Attempts:        1,
		LockedUntil:     &lockedUntil,
	}
	if event.Account != "" {
		account := event.Account
		record.AccountID = &account
	}
	if !event.Created.IsZero() {
		created := event.Created
		record.EventCreatedAt = &created
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return "", fmt.Errorf("store event %s: %w", event.ID, err)
	}

	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ID)
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.metrics.RecordWebhookEvent(ctx, event.Provider, event.Type, string(paymentdomain.OutcomeDuplicate))
			s.log.Debug("duplicate event skipped",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
			)
			return paymentdomain.OutcomeDuplicate, nil
		}
		claimed, err := s.repo.ClaimEvent(ctx, s.db, stored.ID, now, lockedUntil)
		if err != nil {
			return "", err
		}
		if !claimed {
			return "", paymentdomain.ErrEventInFlight
		}
		s.log.Info("re-dispatching unprocessed event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Int("previous_attempts", stored.Attempts),
		)
	}

	return s.dispatch(ctx, stored, event)
}

func (s *Service) Replay(ctx context.Context, provider string, providerEventID string) (paymentdomain.Outcome, error) {
	verifier, err := s.adapters.Verifier(provider)
	if err != nil {
		return "", err
	}
	providerEventID = strings.TrimSpace(providerEventID)
	if providerEventID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}

	stored, err := s.repo.FindEvent(ctx, s.db, verifier.Provider(), providerEventID)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", paymentdomain.ErrEventNotFound
	}
	if stored.ProcessedAt != nil {
		return "", paymentdomain.ErrEventAlreadyProcessed
	}

	event, err := verifier.Parse(stored.Payload)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	claimed, err := s.repo.ClaimEvent(ctx, s.db, stored.ID, now, now.Add(dispatchLease))
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", paymentdomain.ErrEventInFlight
	}

	ctx = obscontext.WithActor(ctx, "system", "replay")
	return s.dispatch(ctx, stored, event)
}

func (s *Service) ListUnprocessed(ctx context.Context, provider string, limit int) ([]paymentdomain.EventRecord, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListUnprocessed(ctx, s.db, provider, s.clock.Now(), limit)
}

func (s *Service) dispatch(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.Event) (outcome paymentdomain.Outcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "payment.dispatch",
		attribute.String("provider", event.Provider),
		attribute.String("event_type", event.Type),
		attribute.String("event_id", event.ID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if actorType, _ := obscontext.ActorFromContext(ctx); actorType == "" {
		ctx = obscontext.WithActor(ctx, "webhook", event.Provider)
	}

	handlers := s.handlers[event.Type]
	if len(handlers) == 0 {
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
			return "", err
		}
		s.metrics.RecordWebhookEvent(ctx, event.Provider, event.Type, string(paymentdomain.OutcomeIgnored))
		return paymentdomain.OutcomeIgnored, nil
	}

	var errs []error
	for _, handler := range handlers {
		if herr := handler.Handle(ctx, *event); herr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", handler.Name(), herr))
		}
	}

	if joined := errors.Join(errs...); joined != nil {
		if ferr := s.repo.RecordFailure(ctx, s.db, stored.ID, truncate(joined.Error(), maxLastErrorChars)); ferr != nil {
			s.log.Error("failed to record event failure", zap.String("event_id", event.ID), zap.Error(ferr))
		}
		s.metrics.RecordWebhookEvent(ctx, event.Provider, event.Type, string(paymentdomain.OutcomeFailed))
		s.log.Error("event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("account_id", event.Account),
			zap.Error(joined),
		)
		return paymentdomain.OutcomeFailed, fmt.Errorf("dispatch %s: %w", event.Type, joined)
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return "", err
	}
	s.metrics.RecordWebhookEvent(ctx, event.Provider, event.Type, string(paymentdomain.OutcomeProcessed))
	return paymentdomain.OutcomeProcessed, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
