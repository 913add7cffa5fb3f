package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrSubscriptionExpired  = errors.New("subscription has expired")
	ErrQuotaExhausted       = errors.New("subscription quota exhausted")
)

// QuotaGate decides and enforces entitlement to book an appointment category.
// The store is the only authority; nothing here caches quota state.
type QuotaGate struct {
	repo Repository
}

func NewQuotaGate(repo Repository) *QuotaGate {
	return &QuotaGate{repo: repo}
}

// CanConsume reports entitlement. nil means allowed; the typed errors name
// the reason otherwise. Safe to call outside a transaction for UI checks,
// but the answer is only binding inside one.
func (g *QuotaGate) CanConsume(ctx context.Context, q store.Querier, userID uuid.UUID, category Category) error {
	sub, err := g.repo.GetCurrentByUser(ctx, q, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return ErrNoActiveSubscription
		}
		return fmt.Errorf("load subscription: %w", err)
	}
	return evaluate(sub, category, time.Now())
}

// ConsumeResult records what Consume did so cancellation can undo exactly
// that. Consumed is false for unlimited quotas, which never decrement.
type ConsumeResult struct {
	SubscriptionID uuid.UUID
	Consumed       bool
}

// Consume locks the caller's subscription row and applies the guarded
// decrement. It must run on the same transaction as the appointment write it
// authorizes.
func (g *QuotaGate) Consume(ctx context.Context, q store.Querier, userID uuid.UUID, category Category) (ConsumeResult, error) {
	sub, err := g.repo.GetCurrentByUserForUpdate(ctx, q, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return ConsumeResult{}, ErrNoActiveSubscription
		}
		return ConsumeResult{}, fmt.Errorf("lock subscription: %w", err)
	}

	if err := evaluate(sub, category, time.Now()); err != nil {
		return ConsumeResult{}, err
	}

	if sub.Remaining(category) == Unlimited {
		return ConsumeResult{SubscriptionID: sub.ID, Consumed: false}, nil
	}

	ok, err := g.repo.ConsumeQuota(ctx, q, sub.ID, category)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		// The row lock makes this unreachable unless the counter hit zero
		// between evaluate and the guarded update.
		return ConsumeResult{}, ErrQuotaExhausted
	}

	return ConsumeResult{SubscriptionID: sub.ID, Consumed: true}, nil
}

// RefundQuota restores one consumed unit, capped at the plan maximum. No-op
// errors are not returned for already-full counters; cancellation must not
// fail because the quota cannot grow further.
func (g *QuotaGate) RefundQuota(ctx context.Context, q store.Querier, subscriptionID uuid.UUID, category Category) error {
	_, err := g.repo.RefundQuota(ctx, q, subscriptionID, category)
	if err != nil {
		return fmt.Errorf("refund quota: %w", err)
	}
	return nil
}

func evaluate(sub *Subscription, category Category, now time.Time) error {
	if sub.Status != StatusActive {
		return ErrNoActiveSubscription
	}
	if now.After(sub.EndDate) {
		return ErrSubscriptionExpired
	}
	if sub.Remaining(category) == 0 {
		return ErrQuotaExhausted
	}
	return nil
}
