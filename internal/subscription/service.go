package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrAlreadySubscribed   = errors.New("user already has a current subscription")
	ErrIllegalTransition   = errors.New("illegal subscription status transition")
	ErrPaymentSubjectWrong = errors.New("payment does not reference a subscription")
)

const txTimeout = 10 * time.Second

// renewalGrace is how long an auto-renewing subscription may sit past its end
// date while renewal payments keep failing before the sweep expires it.
const renewalGrace = 7 * 24 * time.Hour

// PaymentIntents is the slice of the payment orchestrator the subscription
// service needs.
type PaymentIntents interface {
	CreateIntent(ctx context.Context, q store.Querier, in payment.CreateIntentInput) (*payment.Payment, error)
	RegisterWithGateway(ctx context.Context, p *payment.Payment)
	GetBySubject(ctx context.Context, subject payment.SubjectRef) (*payment.Payment, error)
	CancelPending(ctx context.Context, q store.Querier, paymentID uuid.UUID) error
}

type Service struct {
	repo     Repository
	gate     *QuotaGate
	pool     store.DB
	payments PaymentIntents
	log      *zap.Logger
}

func NewService(repo Repository, gate *QuotaGate, pool store.DB, payments PaymentIntents, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		gate:     gate,
		pool:     pool,
		payments: payments,
		log:      log,
	}
}

func (s *Service) Gate() *QuotaGate { return s.gate }

// CheckEligibility answers booking-eligibility UI checks before a create is
// even attempted.
func (s *Service) CheckEligibility(ctx context.Context, userID uuid.UUID, category Category) error {
	return s.gate.CanConsume(ctx, s.pool, userID, category)
}

func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.repo.GetCurrentByUser(ctx, s.pool, userID)
}

func (s *Service) Plans(ctx context.Context) ([]Plan, error) {
	return s.repo.ListPlans(ctx, s.pool)
}

// Purchase creates a PENDING subscription and its payment intent in one
// transaction. The subscription only becomes ACTIVE when the gateway confirms
// the payment.
func (s *Service) Purchase(ctx context.Context, actor identity.Identity, planID uuid.UUID, method payment.Method) (*Subscription, *payment.Payment, error) {
	var (
		sub *Subscription
		pay *payment.Payment
	)

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		plan, err := s.repo.GetPlanByID(txCtx, tx, planID)
		if err != nil {
			return err
		}

		if _, err := s.repo.GetCurrentByUserForUpdate(txCtx, tx, actor.UserID); err == nil {
			return ErrAlreadySubscribed
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return fmt.Errorf("check current subscription: %w", err)
		}

		now := time.Now()
		sub = &Subscription{
			ID:     uuid.New(),
			UserID: actor.UserID,
			PlanID: plan.ID,
			Status: StatusPending,
			// Provisional window; activation reloads both from the plan.
			StartDate:                now,
			EndDate:                  now.AddDate(0, 0, plan.DurationDays),
			RemainingConsultations:   0,
			RemainingTherapySessions: 0,
			AutoRenew:                false,
		}
		if err := s.repo.Insert(txCtx, tx, sub); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}

		pay, err = s.payments.CreateIntent(txCtx, tx, payment.CreateIntentInput{
			BaseFee: plan.Price,
			Method:  method,
			Subject: payment.SubjectRef{Type: payment.SubjectSubscription, ID: sub.ID},
		})
		if err != nil {
			return fmt.Errorf("create payment intent: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.payments.RegisterWithGateway(ctx, pay)

	s.log.Info("subscription purchase opened",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("payment_id", pay.ID.String()),
	)
	return sub, pay, nil
}

// HandlePaymentResolved applies a reconciled payment outcome to its
// subscription: completion activates a pending purchase or renews an active
// subscription, failure cancels the pending purchase.
func (s *Service) HandlePaymentResolved(ctx context.Context, p *payment.Payment) error {
	if p.Subject.Type != payment.SubjectSubscription {
		return ErrPaymentSubjectWrong
	}

	return store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		sub, err := s.repo.GetByID(txCtx, tx, p.Subject.ID)
		if err != nil {
			return err
		}

		switch p.Status {
		case payment.StatusCompleted:
			switch sub.Status {
			case StatusPending:
				if _, err := s.repo.Activate(txCtx, tx, sub.ID); err != nil {
					if errors.Is(err, ErrSubscriptionNotFound) {
						// The user acquired another subscription while this
						// purchase was in flight; park the duplicate for an
						// operator-driven refund.
						s.log.Warn("activation blocked by existing subscription",
							zap.String("subscription_id", sub.ID.String()),
						)
						_, serr := s.repo.SetStatus(txCtx, tx, sub.ID, StatusPending, StatusCancelled)
						return serr
					}
					return fmt.Errorf("activate subscription: %w", err)
				}
			case StatusActive:
				if _, err := s.repo.Renew(txCtx, tx, sub.ID); err != nil {
					return fmt.Errorf("renew subscription: %w", err)
				}
			default:
				s.log.Warn("completed payment for subscription in unexpected status",
					zap.String("subscription_id", sub.ID.String()),
					zap.String("status", string(sub.Status)),
				)
			}
		case payment.StatusFailed, payment.StatusCancelled:
			if sub.Status == StatusPending {
				if _, err := s.repo.SetStatus(txCtx, tx, sub.ID, StatusPending, StatusCancelled); err != nil {
					return fmt.Errorf("cancel pending subscription: %w", err)
				}
			}
		}
		return nil
	})
}

// Pause suspends quota consumption. Only the owner or an admin may pause, and
// non-owners get the same not-found answer as a missing subscription.
func (s *Service) Pause(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, actor, id, StatusActive, StatusPaused)
}

// Resume reactivates a paused subscription unless its window already closed.
func (s *Service) Resume(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Subscription, error) {
	sub, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if time.Now().After(sub.EndDate) {
		return nil, ErrSubscriptionExpired
	}
	return s.setStatusChecked(ctx, id, StatusPaused, StatusActive)
}

// Cancel ends the subscription. Remaining quota is forfeited.
func (s *Service) Cancel(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Subscription, error) {
	sub, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive && sub.Status != StatusPaused {
		return nil, ErrIllegalTransition
	}
	return s.setStatusChecked(ctx, id, sub.Status, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, actor identity.Identity, id uuid.UUID, from, to Status) (*Subscription, error) {
	if _, err := s.authorized(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.setStatusChecked(ctx, id, from, to)
}

func (s *Service) setStatusChecked(ctx context.Context, id uuid.UUID, from, to Status) (*Subscription, error) {
	updated, err := s.repo.SetStatus(ctx, s.pool, id, from, to)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrIllegalTransition
		}
		return nil, err
	}
	return updated, nil
}

func (s *Service) authorized(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != identity.RoleAdmin && sub.UserID != actor.UserID {
		// Indistinguishable from a missing subscription on purpose.
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// RunRenewalSweep expires overdue subscriptions and opens renewal payments
// for the auto-renewing ones. Called by the background worker.
func (s *Service) RunRenewalSweep(ctx context.Context) error {
	now := time.Now()

	overdue, err := s.repo.FindOverdue(ctx, s.pool, now)
	if err != nil {
		return fmt.Errorf("find overdue subscriptions: %w", err)
	}

	var expired int64
	for _, sub := range overdue {
		if sub.Status == StatusActive && sub.AutoRenew && now.Sub(sub.EndDate) < renewalGrace {
			// Renewal still has a chance; the renewable pass below retries.
			continue
		}
		if _, err := s.repo.SetStatus(ctx, s.pool, sub.ID, sub.Status, StatusExpired); err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				// Raced with a user-driven transition.
				continue
			}
			s.log.Error("subscription expiry failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.log.Info("subscriptions expired", zap.Int64("count", expired))
	}

	renewable, err := s.repo.FindRenewable(ctx, s.pool, now)
	if err != nil {
		return fmt.Errorf("find renewable subscriptions: %w", err)
	}

	for _, sub := range renewable {
		if err := s.startRenewal(ctx, sub); err != nil {
			s.log.Error("renewal start failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Service) startRenewal(ctx context.Context, sub Subscription) error {
	subject := payment.SubjectRef{Type: payment.SubjectSubscription, ID: sub.ID}

	// A pending payment for this subscription means a renewal is already in
	// flight; the sweep must not stack intents on every tick.
	if existing, err := s.payments.GetBySubject(ctx, subject); err == nil && existing.Status == payment.StatusPending {
		return nil
	} else if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		return err
	}

	var pay *payment.Payment
	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		plan, err := s.repo.GetPlanByID(txCtx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		pay, err = s.payments.CreateIntent(txCtx, tx, payment.CreateIntentInput{
			BaseFee: plan.Price,
			Method:  payment.MethodUPI,
			Subject: subject,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.payments.RegisterWithGateway(ctx, pay)
	return nil
}
