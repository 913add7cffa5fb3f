package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
)

// Repository contains all DB interactions needed by the quota gate and the
// subscription service.
type Repository interface {
	GetPlanByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, q store.Querier) ([]Plan, error)

	GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error)
	// GetCurrentByUser returns the user's ACTIVE or PAUSED subscription.
	GetCurrentByUser(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error)
	// GetCurrentByUserForUpdate locks the row for the rest of the transaction.
	GetCurrentByUserForUpdate(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error)

	Insert(ctx context.Context, q store.Querier, s *Subscription) error
	// Activate flips a PENDING subscription to ACTIVE, loading dates and quota
	// from the plan. The guard refuses activation while the user already holds
	// an ACTIVE or PAUSED subscription.
	Activate(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error)
	SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Subscription, error)

	// ConsumeQuota decrements the category counter only while it is positive.
	// Returns false when no row qualified.
	ConsumeQuota(ctx context.Context, q store.Querier, id uuid.UUID, category Category) (bool, error)
	// RefundQuota increments the category counter, capped at the plan maximum.
	RefundQuota(ctx context.Context, q store.Querier, id uuid.UUID, category Category) (bool, error)

	// Renew resets quota fields to the plan maximums and advances the dates.
	Renew(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error)
	FindRenewable(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error)
	// FindOverdue returns ACTIVE and PAUSED subscriptions whose window has
	// closed. Disposition is decided by the sweep.
	FindOverdue(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error)
}
