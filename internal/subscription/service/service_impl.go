package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	HistorySvc historydomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	historySvc historydomain.Service
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		historySvc: p.HistorySvc,
	}
}

func (s *Service) Reconcile(ctx context.Context, input subscriptiondomain.ReconcileInput) (subscriptiondomain.ReconcileResult, error) {
	input.ExternalSubscriptionID = strings.TrimSpace(input.ExternalSubscriptionID)
	if input.ExternalSubscriptionID == "" {
		return subscriptiondomain.ReconcileResult{}, subscriptiondomain.ErrInvalidSubscription
	}
	if input.EventAt.IsZero() {
		input.EventAt = s.clock.Now()
	}

	result, err := s.reconcileOnce(ctx, input)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// A concurrent delivery inserted the row first; the second pass finds and updates it.
		s.log.Info("subscription insert raced, retrying as update",
			zap.String("external_subscription_id", input.ExternalSubscriptionID),
			zap.String("constraint", db.ConstraintName(err)),
		)
		result, err = s.reconcileOnce(ctx, input)
	}
	if err != nil {
		return subscriptiondomain.ReconcileResult{}, err
	}
	return result, nil
}

func (s *Service) reconcileOnce(ctx context.Context, input subscriptiondomain.ReconcileInput) (subscriptiondomain.ReconcileResult, error) {
	var result subscriptiondomain.ReconcileResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByExternalIDForUpdate(ctx, tx, input.ExternalSubscriptionID)
		if err != nil {
			return err
		}

		replacing := false
		if current == nil && input.PractitionerID != 0 && input.Kind != subscriptiondomain.EventKindDeleted {
			current, err = s.repo.FindLiveByPractitionerForUpdate(ctx, tx, input.PractitionerID)
			if err != nil {
				return err
			}
			replacing = current != nil
		}

		if current != nil && !replacing && current.LastEventAt != nil && input.EventAt.Before(*current.LastEventAt) {
			result = subscriptiondomain.ReconcileResult{Subscription: *current, PreviousStatus: current.Status, Stale: true}
			s.log.Info("stale subscription event ignored",
				zap.String("event_id", input.EventID),
				zap.String("external_subscription_id", input.ExternalSubscriptionID),
				zap.Time("event_at", input.EventAt),
				zap.Time("last_event_at", *current.LastEventAt),
			)
			return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
				PractitionerID: current.PractitionerID,
				EventType:      historydomain.EventSubscriptionStaleIgnored,
				SubscriptionID: &current.ID,
				SourceEventID:  input.EventID,
				Metadata: map[string]any{
					"event_kind":    string(input.Kind),
					"event_at":      input.EventAt.Format(time.RFC3339),
					"last_event_at": current.LastEventAt.Format(time.RFC3339),
				},
			})
		}

		next, fallback := subscriptiondomain.MapStatus(input.RawStatus)
		if input.Kind == subscriptiondomain.EventKindDeleted {
			next, fallback = subscriptiondomain.SubscriptionStatusCanceled, false
		}
		if fallback {
			s.log.Warn("unknown subscription status, treating as active",
				zap.String("raw_status", input.RawStatus),
				zap.String("external_subscription_id", input.ExternalSubscriptionID),
			)
		}

		var previous subscriptiondomain.SubscriptionStatus
		if current != nil && !replacing {
			previous = current.Status
		}
		if !subscriptiondomain.CanTransition(previous, input.Kind, next) {
			s.log.Warn("subscription transition rejected",
				zap.String("external_subscription_id", input.ExternalSubscriptionID),
				zap.String("from", string(previous)),
				zap.String("to", string(next)),
				zap.String("event_kind", string(input.Kind)),
			)
			return fmt.Errorf("%w: %s -> %s on %s", subscriptiondomain.ErrInvalidTransition, previous, next, input.Kind)
		}

		now := s.clock.Now()
		eventAt := input.EventAt.UTC()

		if input.Kind == subscriptiondomain.EventKindDeleted {
			if current == nil {
				s.log.Warn("deleted event for unknown subscription ignored",
					zap.String("event_id", input.EventID),
					zap.String("external_subscription_id", input.ExternalSubscriptionID),
				)
				return nil
			}
			previous = current.Status
			current.Status = subscriptiondomain.SubscriptionStatusCanceled
			current.LastEventAt = &eventAt
			current.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, current); err != nil {
				return err
			}
			result = subscriptiondomain.ReconcileResult{Subscription: *current, PreviousStatus: previous}
			if previous == subscriptiondomain.SubscriptionStatusCanceled {
				return nil
			}
			return s.record(ctx, tx, historydomain.EventSubscriptionCanceled, input, result, nil)
		}

		plan, err := s.resolvePlan(ctx, tx, input.PlanName, current)
		if err != nil {
			return err
		}
		cycle := input.BillingCycle
		if cycle == "" && current != nil {
			cycle = current.BillingCycle
		}
		if cycle == "" {
			return subscriptiondomain.ErrInvalidBillingCycle
		}

		if current == nil {
			if input.PractitionerID == 0 {
				return subscriptiondomain.ErrInvalidPractitioner
			}
			sub := subscriptiondomain.Subscription{
				ID:                     s.genID.Generate(),
				PractitionerID:         input.PractitionerID,
				PlanID:                 plan.ID,
				BillingCycle:           cycle,
				Status:                 next,
				ExternalSubscriptionID: input.ExternalSubscriptionID,
				ExternalCustomerID:     optionalString(input.ExternalCustomerID),
				CurrentPeriodStart:     input.CurrentPeriodStart,
				CurrentPeriodEnd:       input.CurrentPeriodEnd,
				TrialEnd:               input.TrialEnd,
				CancelAtPeriodEnd:      input.CancelAtPeriodEnd,
				LastEventAt:            &eventAt,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			if err := s.repo.Insert(ctx, tx, &sub); err != nil {
				return err
			}
			result = subscriptiondomain.ReconcileResult{Subscription: sub, Inserted: true, StatusFallback: fallback}
			eventType := historydomain.EventSubscriptionCreated
			if next == subscriptiondomain.SubscriptionStatusCanceled {
				eventType = historydomain.EventSubscriptionCanceled
			}
			return s.record(ctx, tx, eventType, input, result, plan)
		}

		previous = current.Status
		if replacing {
			s.log.Info("replacing practitioner live subscription",
				zap.String("practitioner_id", current.PractitionerID.String()),
				zap.String("previous_external_subscription_id", current.ExternalSubscriptionID),
				zap.String("external_subscription_id", input.ExternalSubscriptionID),
			)
			current.ExternalSubscriptionID = input.ExternalSubscriptionID
		}
		current.PlanID = plan.ID
		current.BillingCycle = cycle
		current.Status = next
		if customer := optionalString(input.ExternalCustomerID); customer != nil {
			current.ExternalCustomerID = customer
		}
		current.CurrentPeriodStart = input.CurrentPeriodStart
		current.CurrentPeriodEnd = input.CurrentPeriodEnd
		current.TrialEnd = input.TrialEnd
		current.CancelAtPeriodEnd = input.CancelAtPeriodEnd
		current.LastEventAt = &eventAt
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		result = subscriptiondomain.ReconcileResult{Subscription: *current, PreviousStatus: previous, StatusFallback: fallback}
		eventType := historydomain.EventSubscriptionUpdated
		if next == subscriptiondomain.SubscriptionStatusCanceled && previous != subscriptiondomain.SubscriptionStatusCanceled {
			eventType = historydomain.EventSubscriptionCanceled
		}
		return s.record(ctx, tx, eventType, input, result, plan)
	})
	if err != nil {
		return subscriptiondomain.ReconcileResult{}, err
	}
	return result, nil
}

func (s *Service) MarkPastDue(ctx context.Context, tx *gorm.DB, input subscriptiondomain.MarkPastDueInput) (subscriptiondomain.MarkPastDueResult, error) {
	if tx == nil {
		tx = s.db
	}
	externalID := strings.TrimSpace(input.ExternalSubscriptionID)
	if externalID == "" {
		return subscriptiondomain.MarkPastDueResult{}, subscriptiondomain.ErrInvalidSubscription
	}

	current, err := s.repo.FindByExternalIDForUpdate(ctx, tx, externalID)
	if err != nil {
		return subscriptiondomain.MarkPastDueResult{}, err
	}
	if current == nil {
		return subscriptiondomain.MarkPastDueResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	result := subscriptiondomain.MarkPastDueResult{Subscription: *current, PreviousStatus: current.Status}
	if !input.EventAt.IsZero() && current.LastEventAt != nil && input.EventAt.Before(*current.LastEventAt) {
		result.Stale = true
		return result, nil
	}

	target := subscriptiondomain.SubscriptionStatusPastDue
	if current.Status == subscriptiondomain.SubscriptionStatusCanceled {
		// canceled is terminal; a late renewal failure leaves it as is
		target = subscriptiondomain.SubscriptionStatusCanceled
	}
	if !subscriptiondomain.CanTransition(current.Status, subscriptiondomain.EventKindPaymentFailed, target) {
		return subscriptiondomain.MarkPastDueResult{}, subscriptiondomain.ErrInvalidTransition
	}
	if current.Status == target {
		return result, nil
	}

	now := s.clock.Now()
	current.Status = target
	current.UpdatedAt = now
	if !input.EventAt.IsZero() {
		eventAt := input.EventAt.UTC()
		current.LastEventAt = &eventAt
	}
	if err := s.repo.Update(ctx, tx, current); err != nil {
		return subscriptiondomain.MarkPastDueResult{}, err
	}
	result.Subscription = *current
	result.Changed = true
	return result, nil
}

func (s *Service) FindByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	if tx == nil {
		tx = s.db
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}
	item, err := s.repo.FindByExternalID(ctx, tx, externalID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return item, nil
}

func (s *Service) GetActive(ctx context.Context, practitionerID snowflake.ID) (subscriptiondomain.ActiveSubscription, error) {
	if practitionerID == 0 {
		return subscriptiondomain.ActiveSubscription{}, subscriptiondomain.ErrInvalidPractitioner
	}
	item, err := s.repo.FindLiveByPractitioner(ctx, s.db, practitionerID)
	if err != nil {
		return subscriptiondomain.ActiveSubscription{}, err
	}
	if item == nil {
		return subscriptiondomain.ActiveSubscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	plan, err := s.repo.FindPlanByID(ctx, s.db, item.PlanID)
	if err != nil {
		return subscriptiondomain.ActiveSubscription{}, err
	}
	if plan == nil {
		return subscriptiondomain.ActiveSubscription{}, subscriptiondomain.ErrPlanNotFound
	}
	return subscriptiondomain.ActiveSubscription{Subscription: *item, Plan: *plan}, nil
}

func (s *Service) resolvePlan(ctx context.Context, tx *gorm.DB, name string, current *subscriptiondomain.Subscription) (*subscriptiondomain.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if current == nil {
			return nil, subscriptiondomain.ErrPlanNotFound
		}
		plan, err := s.repo.FindPlanByID(ctx, tx, current.PlanID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, subscriptiondomain.ErrPlanNotFound
		}
		return plan, nil
	}

	plan, err := s.repo.FindPlanByName(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", subscriptiondomain.ErrPlanNotFound, name)
	}
	return plan, nil
}

func (s *Service) record(
	ctx context.Context,
	tx *gorm.DB,
	eventType string,
	input subscriptiondomain.ReconcileInput,
	result subscriptiondomain.ReconcileResult,
	plan *subscriptiondomain.Plan,
) error {
	sub := result.Subscription
	metadata := map[string]any{
		"status":                   string(sub.Status),
		"external_subscription_id": sub.ExternalSubscriptionID,
		"billing_cycle":            string(sub.BillingCycle),
		"event_kind":               string(input.Kind),
	}
	if result.PreviousStatus != "" {
		metadata["previous_status"] = string(result.PreviousStatus)
	}
	if plan != nil {
		metadata["plan"] = plan.Name
	}
	if result.StatusFallback {
		metadata["status_fallback"] = true
		metadata["raw_status"] = input.RawStatus
	}
	if sub.CancelAtPeriodEnd {
		metadata["cancel_at_period_end"] = true
	}

	if err := s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
		PractitionerID: sub.PractitionerID,
		EventType:      eventType,
		SubscriptionID: &sub.ID,
		SourceEventID:  input.EventID,
		Metadata:       metadata,
	}); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
