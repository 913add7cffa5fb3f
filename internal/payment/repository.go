package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRefundNotFound  = errors.New("refund not found")
)

// Repository contains all DB interactions needed by the orchestrator. Methods
// take a store.Querier so callers can compose them into larger transactions.
type Repository interface {
	Insert(ctx context.Context, q store.Querier, p *Payment) error
	GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Payment, error)
	GetByOrderRef(ctx context.Context, q store.Querier, orderRef string) (*Payment, error)
	// GetByIDForUpdate locks the payment row for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, q store.Querier, id uuid.UUID) (*Payment, error)
	GetBySubject(ctx context.Context, q store.Querier, subject SubjectRef) (*Payment, error)
	// GetBySubjectForUpdate locks the subject's latest payment row for the
	// rest of the transaction.
	GetBySubjectForUpdate(ctx context.Context, q store.Querier, subject SubjectRef) (*Payment, error)
	SetReconciled(ctx context.Context, q store.Querier, id uuid.UUID, transactionRef string, to Status) (*Payment, error)
	SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Payment, error)

	InsertRefund(ctx context.Context, q store.Querier, r *Refund) error
	GetRefundByGatewayRef(ctx context.Context, q store.Querier, gatewayRefundRef string) (*Refund, error)
	SetRefundStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to RefundStatus) (*Refund, error)
	// SumActiveRefunds returns the total of pending plus completed refund
	// amounts for a payment.
	SumActiveRefunds(ctx context.Context, q store.Querier, paymentID uuid.UUID) (int64, error)
	SumCompletedRefunds(ctx context.Context, q store.Querier, paymentID uuid.UUID) (int64, error)

	FindStalePending(ctx context.Context, q store.Querier, subjectType SubjectType, olderThan time.Time) ([]Payment, error)
}
