package booking

import (
	"testing"
	"time"

	"github.com/caremesh/telehealth-booking/internal/payment"
)

func TestWindowedPolicyRefundAmount(t *testing.T) {
	policy := DefaultPolicy()
	p := &payment.Payment{FinalAmount: 590}
	slot := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		cancelledAt time.Time
		want        int64
	}{
		{"two days ahead", slot.Add(-48 * time.Hour), 590},
		{"exactly at the full-refund boundary", slot.Add(-24 * time.Hour), 590},
		{"inside the partial window", slot.Add(-2 * time.Hour), 295},
		{"one minute before the slot", slot.Add(-time.Minute), 295},
		{"at the slot start", slot, 0},
		{"after the slot", slot.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.RefundAmount(p, slot, tt.cancelledAt); got != tt.want {
				t.Errorf("RefundAmount(cancelled %s) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}
