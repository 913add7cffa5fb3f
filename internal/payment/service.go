package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrIntegrityViolation  = errors.New("conflicting reconciliation data for payment")
	ErrNotRefundable       = errors.New("payment is not in a refundable state")
	ErrRefundExceedsAmount = errors.New("cumulative refunds would exceed the payment amount")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnknownOutcome      = errors.New("reconcile outcome must be completed or failed")
)

const txTimeout = 10 * time.Second

// Gateway is the payment provider integration. The concrete SDK, signing
// scheme, and REST shape all live behind this interface.
type Gateway interface {
	CreateOrder(ctx context.Context, orderRef string, amount int64, currency string) error
	InitiateRefund(ctx context.Context, refundRef, transactionRef string, amount int64) error
}

type Config struct {
	Currency     string
	PlatformRate float64
	TaxRate      float64
}

// Service is the payment orchestrator. It owns intent creation, gateway
// reconciliation, and refunds. Appointment and subscription state transitions
// driven by payment outcomes belong to their own services; this one never
// reaches into them.
type Service struct {
	repo    Repository
	pool    store.DB
	gateway Gateway
	cfg     Config
	log     *zap.Logger
}

func NewService(repo Repository, pool store.DB, gateway Gateway, cfg Config, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		pool:    pool,
		gateway: gateway,
		cfg:     cfg,
		log:     log,
	}
}

type CreateIntentInput struct {
	BaseFee int64
	Method  Method
	Subject SubjectRef
}

// CreateIntent writes a PENDING payment with the fee split snapshotted from
// the base fee. It runs on the caller's Querier so the write commits or rolls
// back together with the bookable action it pays for.
func (s *Service) CreateIntent(ctx context.Context, q store.Querier, in CreateIntentInput) (*Payment, error) {
	if in.BaseFee <= 0 {
		return nil, ErrInvalidAmount
	}

	split := ComputeFeeSplit(in.BaseFee, s.cfg.PlatformRate, s.cfg.TaxRate)

	p := &Payment{
		ID:              uuid.New(),
		Amount:          in.BaseFee,
		Currency:        s.cfg.Currency,
		Status:          StatusPending,
		Method:          in.Method,
		GatewayOrderRef: "ord_" + uuid.NewString(),
		Subject:         in.Subject,
		PlatformFee:     split.PlatformFee,
		ProviderFee:     split.ProviderFee,
		TaxAmount:       split.TaxAmount,
		FinalAmount:     split.FinalAmount,
	}

	if err := s.repo.Insert(ctx, q, p); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	return p, nil
}

// RegisterWithGateway pushes the order to the gateway after the owning
// transaction has committed. Failures leave the payment PENDING for the sweep
// to expire, so they are logged rather than returned.
func (s *Service) RegisterWithGateway(ctx context.Context, p *Payment) {
	if err := s.gateway.CreateOrder(ctx, p.GatewayOrderRef, p.FinalAmount, p.Currency); err != nil {
		s.log.Warn("gateway order registration failed",
			zap.String("payment_id", p.ID.String()),
			zap.String("order_ref", p.GatewayOrderRef),
			zap.Error(err),
		)
	}
}

// Reconcile applies a verified gateway outcome to a payment. Replays with the
// same transaction reference are no-ops returning the stored record; a
// different reference against a terminal payment is rejected.
func (s *Service) Reconcile(ctx context.Context, paymentID uuid.UUID, transactionRef string, outcome Status) (*Payment, error) {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return nil, ErrUnknownOutcome
	}
	if transactionRef == "" {
		return nil, fmt.Errorf("%w: empty transaction reference", ErrIntegrityViolation)
	}

	var result *Payment

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		p, err := s.repo.GetByIDForUpdate(txCtx, tx, paymentID)
		if err != nil {
			return err
		}

		if p.Status.Terminal() {
			if p.GatewayTransactionRef != nil && *p.GatewayTransactionRef == transactionRef {
				result = p
				return nil
			}
			if p.GatewayTransactionRef == nil {
				// Resolved locally (user cancel or expiry sweep) before the
				// gateway outcome arrived. Returning an error here would keep
				// the gateway redelivering forever; acknowledge and flag the
				// charge for an operator-driven refund.
				s.log.Error("gateway outcome for locally resolved payment",
					zap.String("payment_id", p.ID.String()),
					zap.String("status", string(p.Status)),
					zap.String("transaction_ref", transactionRef),
					zap.String("outcome", string(outcome)),
				)
				result = p
				return nil
			}
			return fmt.Errorf("%w: payment %s is %s with a different transaction reference",
				ErrIntegrityViolation, p.ID, p.Status)
		}

		updated, err := s.repo.SetReconciled(txCtx, tx, p.ID, transactionRef, outcome)
		if err != nil {
			return fmt.Errorf("reconcile payment: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment reconciled",
		zap.String("payment_id", result.ID.String()),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// GetByOrderRef resolves the payment a gateway event refers to.
func (s *Service) GetByOrderRef(ctx context.Context, orderRef string) (*Payment, error) {
	return s.repo.GetByOrderRef(ctx, s.pool, orderRef)
}

func (s *Service) GetBySubject(ctx context.Context, subject SubjectRef) (*Payment, error) {
	return s.repo.GetBySubject(ctx, s.pool, subject)
}

// GetBySubjectForUpdate runs on the caller's Querier so the payment row stays
// locked while the caller decides how to settle it.
func (s *Service) GetBySubjectForUpdate(ctx context.Context, q store.Querier, subject SubjectRef) (*Payment, error) {
	return s.repo.GetBySubjectForUpdate(ctx, q, subject)
}

// Refund opens a refund against a COMPLETED payment. The cumulative refunded
// amount, counting refunds still in flight, can never exceed the final amount.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Refund, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var (
		refund         *Refund
		transactionRef string
	)

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		p, err := s.repo.GetByIDForUpdate(txCtx, tx, paymentID)
		if err != nil {
			return err
		}

		if p.Status != StatusCompleted {
			return fmt.Errorf("%w: payment %s is %s", ErrNotRefundable, p.ID, p.Status)
		}

		refunded, err := s.repo.SumActiveRefunds(txCtx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("sum refunds: %w", err)
		}
		if refunded+amount > p.FinalAmount {
			return ErrRefundExceedsAmount
		}

		r := &Refund{
			ID:               uuid.New(),
			PaymentID:        p.ID,
			Amount:           amount,
			Reason:           reason,
			Status:           RefundPending,
			GatewayRefundRef: "rfnd_" + uuid.NewString(),
		}
		if err := s.repo.InsertRefund(txCtx, tx, r); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}

		refund = r
		if p.GatewayTransactionRef != nil {
			transactionRef = *p.GatewayTransactionRef
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.gateway.InitiateRefund(ctx, refund.GatewayRefundRef, transactionRef, refund.Amount); err != nil {
		s.log.Warn("gateway refund initiation failed",
			zap.String("refund_id", refund.ID.String()),
			zap.Error(err),
		)
	}

	return refund, nil
}

// AcknowledgeRefund applies the gateway's refund outcome. Duplicate
// acknowledgements are no-ops keyed on the gateway refund reference. When the
// completed total reaches the final amount the payment moves to REFUNDED.
func (s *Service) AcknowledgeRefund(ctx context.Context, gatewayRefundRef string, succeeded bool) (*Refund, error) {
	var result *Refund

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		r, err := s.repo.GetRefundByGatewayRef(txCtx, tx, gatewayRefundRef)
		if err != nil {
			return err
		}

		if r.Status != RefundPending {
			result = r
			return nil
		}

		to := RefundCompleted
		if !succeeded {
			to = RefundFailed
		}

		updated, err := s.repo.SetRefundStatus(txCtx, tx, r.ID, RefundPending, to)
		if err != nil {
			return fmt.Errorf("update refund status: %w", err)
		}
		result = updated

		if to != RefundCompleted {
			return nil
		}

		p, err := s.repo.GetByIDForUpdate(txCtx, tx, r.PaymentID)
		if err != nil {
			return err
		}
		completed, err := s.repo.SumCompletedRefunds(txCtx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("sum completed refunds: %w", err)
		}
		if p.Status == StatusCompleted && completed >= p.FinalAmount {
			if _, err := s.repo.SetStatus(txCtx, tx, p.ID, StatusCompleted, StatusRefunded); err != nil {
				return fmt.Errorf("mark payment refunded: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CancelPending expires a payment that never got a gateway outcome. Used by
// the cancellation path and the background sweep.
func (s *Service) CancelPending(ctx context.Context, q store.Querier, paymentID uuid.UUID) error {
	_, err := s.repo.SetStatus(ctx, q, paymentID, StatusPending, StatusCancelled)
	if errors.Is(err, ErrPaymentNotFound) {
		// Already resolved by a racing webhook; nothing to cancel.
		return nil
	}
	return err
}

func (s *Service) FindStalePending(ctx context.Context, subjectType SubjectType, olderThan time.Time) ([]Payment, error) {
	return s.repo.FindStalePending(ctx, s.pool, subjectType, olderThan)
}
