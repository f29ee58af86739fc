package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/clinicledger/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindPlanByName(ctx context.Context, db *gorm.DB, name string) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		Take(&plan).Error
	return notFoundAsNil(&plan, err)
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).Take(&plan).Error
	return notFoundAsNil(&plan, err)
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findByExternalID(ctx, db, externalID, false)
}

func (r *repo) FindByExternalIDForUpdate(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findByExternalID(ctx, db, externalID, true)
}

func (r *repo) findByExternalID(ctx context.Context, db *gorm.DB, externalID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("external_subscription_id = ?", externalID).Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) FindLiveByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findLive(ctx, db, practitionerID, false)
}

func (r *repo) FindLiveByPractitionerForUpdate(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findLive(ctx, db, practitionerID, true)
}

func (r *repo) findLive(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.
		Where("practitioner_id = ?", practitionerID).
		Where("status IN ?", subscriptiondomain.LiveStatuses).
		Order("created_at desc").
		Take(&item).Error
	return notFoundAsNil(&item, err)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, practitioner_id, plan_id, billing_cycle, status, external_subscription_id,
			external_customer_id, current_period_start, current_period_end, trial_end,
			cancel_at_period_end, last_event_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.PractitionerID,
		subscription.PlanID,
		subscription.BillingCycle,
		subscription.Status,
		subscription.ExternalSubscriptionID,
		subscription.ExternalCustomerID,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEnd,
		subscription.CancelAtPeriodEnd,
		subscription.LastEventAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			plan_id = ?, billing_cycle = ?, status = ?, external_subscription_id = ?,
			external_customer_id = ?, current_period_start = ?, current_period_end = ?,
			trial_end = ?, cancel_at_period_end = ?, last_event_at = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.PlanID,
		subscription.BillingCycle,
		subscription.Status,
		subscription.ExternalSubscriptionID,
		subscription.ExternalCustomerID,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEnd,
		subscription.CancelAtPeriodEnd,
		subscription.LastEventAt,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func notFoundAsNil[T any](item *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}
