package booking

import (
	"time"

	"github.com/caremesh/telehealth-booking/internal/payment"
)

// CancellationPolicy decides how much of a completed payment to refund when
// an appointment is cancelled. The amount is in minor currency units; zero
// means no refund.
type CancellationPolicy interface {
	RefundAmount(p *payment.Payment, scheduledAt, cancelledAt time.Time) int64
}

// WindowedPolicy refunds the full final amount when cancellation happens at
// least FullRefundBefore ahead of the slot, a PartialRate share until the
// slot starts, and nothing after.
type WindowedPolicy struct {
	FullRefundBefore time.Duration
	PartialRate      float64
}

func DefaultPolicy() WindowedPolicy {
	return WindowedPolicy{
		FullRefundBefore: 24 * time.Hour,
		PartialRate:      0.5,
	}
}

func (w WindowedPolicy) RefundAmount(p *payment.Payment, scheduledAt, cancelledAt time.Time) int64 {
	switch {
	case !cancelledAt.After(scheduledAt.Add(-w.FullRefundBefore)):
		return p.FinalAmount
	case cancelledAt.Before(scheduledAt):
		return int64(float64(p.FinalAmount) * w.PartialRate)
	default:
		return 0
	}
}
