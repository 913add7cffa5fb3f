package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caremesh/telehealth-booking/internal/store"
)

type PgRepository struct{}

func NewPgRepository() *PgRepository {
	return &PgRepository{}
}

const paymentColumns = `
	id, amount, currency, status, method, gateway_order_ref, gateway_transaction_ref,
	subject_type, subject_id, platform_fee, provider_fee, tax_amount, final_amount,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var transactionRef *string

	err := row.Scan(
		&p.ID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Method,
		&p.GatewayOrderRef,
		&transactionRef,
		&p.Subject.Type,
		&p.Subject.ID,
		&p.PlatformFee,
		&p.ProviderFee,
		&p.TaxAmount,
		&p.FinalAmount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	p.GatewayTransactionRef = transactionRef
	return &p, nil
}

func scanRefund(row pgx.Row) (*Refund, error) {
	var r Refund

	err := row.Scan(
		&r.ID,
		&r.PaymentID,
		&r.Amount,
		&r.Reason,
		&r.Status,
		&r.GatewayRefundRef,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}

	return &r, nil
}

func (r *PgRepository) Insert(ctx context.Context, q store.Querier, p *Payment) error {
	row := q.QueryRow(ctx, `
		INSERT INTO payments (
			id, amount, currency, status, method, gateway_order_ref,
			subject_type, subject_id, platform_fee, provider_fee, tax_amount, final_amount,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+paymentColumns+`
	`, p.ID, p.Amount, p.Currency, p.Status, p.Method, p.GatewayOrderRef,
		p.Subject.Type, p.Subject.ID, p.PlatformFee, p.ProviderFee, p.TaxAmount, p.FinalAmount)

	saved, err := scanPayment(row)
	if err != nil {
		return err
	}
	*p = *saved
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *PgRepository) GetByOrderRef(ctx context.Context, q store.Querier, orderRef string) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_ref = $1`, orderRef)
	return scanPayment(row)
}

func (r *PgRepository) GetByIDForUpdate(ctx context.Context, q store.Querier, id uuid.UUID) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (r *PgRepository) GetBySubject(ctx context.Context, q store.Querier, subject SubjectRef) (*Payment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, subject.Type, subject.ID)
	return scanPayment(row)
}

func (r *PgRepository) GetBySubjectForUpdate(ctx context.Context, q store.Querier, subject SubjectRef) (*Payment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, subject.Type, subject.ID)
	return scanPayment(row)
}

// SetReconciled stores the gateway transaction reference and moves the payment
// out of its non-terminal state. The guard on status and the null check on the
// reference make the write safe under duplicate deliveries.
func (r *PgRepository) SetReconciled(ctx context.Context, q store.Querier, id uuid.UUID, transactionRef string, to Status) (*Payment, error) {
	row := q.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_transaction_ref = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'processing')
		  AND gateway_transaction_ref IS NULL
		RETURNING `+paymentColumns+`
	`, id, to, transactionRef)

	return scanPayment(row)
}

func (r *PgRepository) SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Payment, error) {
	row := q.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+paymentColumns+`
	`, id, to, from)

	return scanPayment(row)
}

func (r *PgRepository) InsertRefund(ctx context.Context, q store.Querier, rf *Refund) error {
	row := q.QueryRow(ctx, `
		INSERT INTO refunds (id, payment_id, amount, reason, status, gateway_refund_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, payment_id, amount, reason, status, gateway_refund_ref, created_at, updated_at
	`, rf.ID, rf.PaymentID, rf.Amount, rf.Reason, rf.Status, rf.GatewayRefundRef)

	saved, err := scanRefund(row)
	if err != nil {
		return err
	}
	*rf = *saved
	return nil
}

func (r *PgRepository) GetRefundByGatewayRef(ctx context.Context, q store.Querier, gatewayRefundRef string) (*Refund, error) {
	row := q.QueryRow(ctx, `
		SELECT id, payment_id, amount, reason, status, gateway_refund_ref, created_at, updated_at
		FROM refunds
		WHERE gateway_refund_ref = $1
	`, gatewayRefundRef)
	return scanRefund(row)
}

func (r *PgRepository) SetRefundStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to RefundStatus) (*Refund, error) {
	row := q.QueryRow(ctx, `
		UPDATE refunds
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, payment_id, amount, reason, status, gateway_refund_ref, created_at, updated_at
	`, id, to, from)

	return scanRefund(row)
}

func (r *PgRepository) SumActiveRefunds(ctx context.Context, q store.Querier, paymentID uuid.UUID) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1
		  AND status IN ('pending', 'completed')
	`, paymentID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PgRepository) SumCompletedRefunds(ctx context.Context, q store.Querier, paymentID uuid.UUID) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1
		  AND status = 'completed'
	`, paymentID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, q store.Querier, subjectType SubjectType, olderThan time.Time) ([]Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending'
		  AND subject_type = $1
		  AND created_at < $2
	`, subjectType, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
