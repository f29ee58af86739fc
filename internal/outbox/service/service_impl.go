package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/clinicledger/internal/clock"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	"github.com/smallbiznis/clinicledger/internal/observability/metrics"
	"github.com/smallbiznis/clinicledger/internal/observability/tracing"
	"github.com/smallbiznis/clinicledger/internal/outbox/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 8
	defaultLease       = 2 * time.Minute
	defaultBatchSize   = 50
	maxLastErrorChars  = 1024
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Handlers []domain.Handler `group:"outbox.handlers"`
	Options  domain.Options   `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	handlers map[string]domain.Handler
	opts     domain.Options
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	opts := p.Options
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	svc := &Service{
		db:       p.DB,
		log:      p.Log.Named("outbox.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		handlers: map[string]domain.Handler{},
		opts:     opts,
		metrics:  p.Metrics,
	}
	for _, handler := range p.Handlers {
		if handler == nil {
			continue
		}
		svc.handlers[handler.Topic()] = handler
	}
	return svc
}

func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, topic string, payload any) (*domain.Message, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, domain.ErrInvalidTopic
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	msg := &domain.Message{
		ID:          s.genID.Generate(),
		Topic:       topic,
		Payload:     datatypes.JSON(raw),
		Status:      domain.StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := s.repo.Insert(ctx, tx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) Drain(ctx context.Context, limit int) (domain.DrainSummary, error) {
	if limit <= 0 {
		limit = s.opts.BatchSize
	}
	ctx = obscontext.WithActor(ctx, "system", "outbox")
	workerID := ulid.Make().String()

	now := s.clock.Now()
	candidates, err := s.repo.ListClaimable(ctx, s.db, now, limit)
	if err != nil {
		return domain.DrainSummary{}, err
	}

	var summary domain.DrainSummary
	var errs []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		claimed, err := s.repo.Claim(ctx, s.db, candidate.ID, workerID, now, now.Add(s.opts.Lease))
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", candidate.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		candidate.Attempts++
		summary.Processed++

		outcome, err := s.deliver(ctx, workerID, candidate)
		switch outcome {
		case "sent":
			summary.Sent++
		case "dead":
			summary.Dead++
			summary.Failed++
		default:
			summary.Failed++
		}
		s.metrics.RecordOutboxMessage(ctx, candidate.Topic, outcome)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if summary.Processed > 0 {
		s.log.Info("outbox drained",
			zap.String("worker_id", workerID),
			zap.Int("processed", summary.Processed),
			zap.Int("sent", summary.Sent),
			zap.Int("failed", summary.Failed),
			zap.Int("dead", summary.Dead),
		)
	}
	return summary, errors.Join(errs...)
}

// deliver runs the topic handler and records the result. Only bookkeeping
// failures are returned; handler failures are recorded on the row.
func (s *Service) deliver(ctx context.Context, workerID string, msg domain.Message) (outcome string, err error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.deliver",
		attribute.String("outbox.topic", msg.Topic),
		attribute.Int("outbox.attempt", msg.Attempts),
	)
	defer func() { tracing.EndSpan(span, err) }()

	handler, ok := s.handlers[msg.Topic]
	var handleErr error
	if !ok {
		handleErr = fmt.Errorf("%w: %s", domain.ErrNoHandler, msg.Topic)
	} else {
		handleErr = handler.Handle(ctx, msg)
	}

	if handleErr == nil {
		if err := s.repo.MarkSent(ctx, s.db, msg.ID, workerID, s.clock.Now()); err != nil {
			return "failed", fmt.Errorf("mark sent %s: %w", msg.ID, err)
		}
		return "sent", nil
	}

	lastError := truncate(handleErr.Error(), maxLastErrorChars)
	logFields := []zap.Field{
		zap.String("message_id", msg.ID.String()),
		zap.String("topic", msg.Topic),
		zap.Int("attempts", msg.Attempts),
		zap.Error(handleErr),
	}

	if !ok || msg.Attempts >= s.opts.MaxAttempts {
		s.log.Error("outbox message dead", logFields...)
		if err := s.repo.MarkDead(ctx, s.db, msg.ID, workerID, lastError); err != nil {
			return "failed", fmt.Errorf("mark dead %s: %w", msg.ID, err)
		}
		return "dead", nil
	}

	next := s.clock.Now().Add(RetryDelay(msg.Attempts))
	s.log.Warn("outbox delivery failed, rescheduled", append(logFields, zap.Time("available_at", next))...)
	if err := s.repo.Reschedule(ctx, s.db, msg.ID, workerID, next, lastError); err != nil {
		return "failed", fmt.Errorf("reschedule %s: %w", msg.ID, err)
	}
	return "retry", nil
}

// RetryDelay is the wait before attempt+1, doubling from 30s up to an hour.
func RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.RandomizationFactor = 0

	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
