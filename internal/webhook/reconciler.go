package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/payment"
)

// Event types the gateway currently sends. Anything else is acknowledged and
// ignored; providers add types over time and a webhook endpoint that errors
// on novelty just earns itself endless redelivery.
const (
	eventPaymentCaptured = "payment.captured"
	eventPaymentFailed   = "payment.failed"
	eventRefundProcessed = "refund.processed"
	eventRefundFailed    = "refund.failed"
)

type envelope struct {
	Type string `json:"type"`
	Data struct {
		OrderRef       string `json:"order_ref"`
		TransactionRef string `json:"transaction_ref"`
		RefundRef      string `json:"refund_ref"`
	} `json:"data"`
}

// Payments is the orchestrator slice the reconciler drives.
type Payments interface {
	GetByOrderRef(ctx context.Context, orderRef string) (*payment.Payment, error)
	Reconcile(ctx context.Context, paymentID uuid.UUID, transactionRef string, outcome payment.Status) (*payment.Payment, error)
	AcknowledgeRefund(ctx context.Context, gatewayRefundRef string, succeeded bool) (*payment.Refund, error)
}

// SubjectResolver receives reconciled payments and applies them to the
// aggregate they pay for (appointment confirmation, subscription activation).
type SubjectResolver interface {
	HandlePaymentResolved(ctx context.Context, p *payment.Payment) error
}

// Reconciler authenticates inbound gateway events and replays them
// idempotently against known payment records.
type Reconciler struct {
	verifier      Verifier
	payments      Payments
	appointments  SubjectResolver
	subscriptions SubjectResolver
	log           *zap.Logger
}

func NewReconciler(verifier Verifier, payments Payments, appointments, subscriptions SubjectResolver, log *zap.Logger) *Reconciler {
	return &Reconciler{
		verifier:      verifier,
		payments:      payments,
		appointments:  appointments,
		subscriptions: subscriptions,
		log:           log,
	}
}

// HandleEvent verifies, parses, and dispatches one gateway delivery. Errors
// returned to the HTTP layer must never reveal whether a payment exists.
func (r *Reconciler) HandleEvent(ctx context.Context, rawPayload []byte, signatureHeader string) error {
	if err := r.verifier.Verify(rawPayload, signatureHeader); err != nil {
		return err
	}

	var ev envelope
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return fmt.Errorf("parse webhook payload: %w", err)
	}

	switch ev.Type {
	case eventPaymentCaptured:
		return r.reconcilePayment(ctx, ev, payment.StatusCompleted)
	case eventPaymentFailed:
		return r.reconcilePayment(ctx, ev, payment.StatusFailed)
	case eventRefundProcessed:
		_, err := r.payments.AcknowledgeRefund(ctx, ev.Data.RefundRef, true)
		return ignoreUnknownRefund(err)
	case eventRefundFailed:
		_, err := r.payments.AcknowledgeRefund(ctx, ev.Data.RefundRef, false)
		return ignoreUnknownRefund(err)
	default:
		r.log.Debug("ignoring unknown webhook event type", zap.String("type", ev.Type))
		return nil
	}
}

func (r *Reconciler) reconcilePayment(ctx context.Context, ev envelope, outcome payment.Status) error {
	p, err := r.payments.GetByOrderRef(ctx, ev.Data.OrderRef)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			// Unknown order: acknowledge so the gateway stops retrying, but
			// keep a trace for operators.
			r.log.Warn("webhook for unknown order", zap.String("order_ref", ev.Data.OrderRef))
			return nil
		}
		return err
	}

	reconciled, err := r.payments.Reconcile(ctx, p.ID, ev.Data.TransactionRef, outcome)
	if err != nil {
		return err
	}

	switch reconciled.Subject.Type {
	case payment.SubjectAppointment:
		return r.appointments.HandlePaymentResolved(ctx, reconciled)
	case payment.SubjectSubscription:
		return r.subscriptions.HandlePaymentResolved(ctx, reconciled)
	}
	return nil
}

func ignoreUnknownRefund(err error) error {
	if errors.Is(err, payment.ErrRefundNotFound) {
		return nil
	}
	return err
}
