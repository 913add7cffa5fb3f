package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/caremesh/telehealth-booking/internal/booking"
	"github.com/caremesh/telehealth-booking/internal/payment"
	redisclient "github.com/caremesh/telehealth-booking/internal/redis"
	"github.com/caremesh/telehealth-booking/internal/subscription"
	"github.com/caremesh/telehealth-booking/internal/webhook"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleDomainError maps service sentinels onto HTTP answers. Every handler
// funnels through here so a given failure always looks the same on the wire.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, booking.ErrProviderInactive):
		writeError(w, http.StatusConflict, "provider_inactive", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotContended), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_contended", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, booking.ErrNotStartable):
		writeError(w, http.StatusConflict, "window_not_elapsed", err.Error())
	case errors.Is(err, booking.ErrInvalidDuration), errors.Is(err, booking.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, subscription.ErrNoActiveSubscription):
		writeError(w, http.StatusForbidden, "no_active_subscription", err.Error())
	case errors.Is(err, subscription.ErrSubscriptionExpired):
		writeError(w, http.StatusForbidden, "subscription_expired", err.Error())
	case errors.Is(err, subscription.ErrQuotaExhausted):
		writeError(w, http.StatusForbidden, "quota_exhausted", err.Error())
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, "already_subscribed", err.Error())
	case errors.Is(err, subscription.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "subscription_not_found", "subscription not found")
	case errors.Is(err, subscription.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "plan_not_found", err.Error())

	case errors.Is(err, payment.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", "payment not found")
	case errors.Is(err, payment.ErrIntegrityViolation):
		writeError(w, http.StatusConflict, "payment_integrity_violation", err.Error())
	case errors.Is(err, payment.ErrNotRefundable), errors.Is(err, payment.ErrRefundExceedsAmount):
		writeError(w, http.StatusConflict, "refund_rejected", err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())

	case errors.Is(err, webhook.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", "")

	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
