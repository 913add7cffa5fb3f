package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
	"github.com/caremesh/telehealth-booking/internal/subscription"
)

func listPlansHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.Plans(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]PlanResponse, 0, len(plans))
		for _, p := range plans {
			out = append(out, PlanResponse{
				ID:                 p.ID,
				Name:               p.Name,
				Price:              p.Price,
				DurationDays:       p.DurationDays,
				MaxConsultations:   p.MaxConsultations,
				MaxTherapySessions: p.MaxTherapySessions,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func purchaseSubscriptionHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		var req PurchaseSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		planID, err := uuid.Parse(req.PlanID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_plan_id", "plan_id must be a valid UUID")
			return
		}

		sub, pay, err := svc.Purchase(r.Context(), actor, planID, payment.Method(req.Method))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PurchaseSubscriptionResponse{
			Subscription: toSubscriptionResponse(sub),
			Payment:      toPaymentResponse(pay),
		})
	}
}

func currentSubscriptionHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		sub, err := svc.Current(r.Context(), actor.UserID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func eligibilityHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		category := subscription.Category(r.URL.Query().Get("category"))
		if category != subscription.CategoryConsultation && category != subscription.CategoryTherapy {
			writeError(w, http.StatusBadRequest, "invalid_category", "category must be consultation or therapy_session")
			return
		}

		if err := svc.CheckEligibility(r.Context(), actor.UserID, category); err != nil {
			switch {
			case isEntitlementError(err):
				writeJSON(w, http.StatusOK, EligibilityResponse{Eligible: false, Reason: err.Error()})
			default:
				handleDomainError(w, err)
			}
			return
		}

		writeJSON(w, http.StatusOK, EligibilityResponse{Eligible: true})
	}
}

type subscriptionTransition func(ctx context.Context, actor identity.Identity, id uuid.UUID) (*subscription.Subscription, error)

func subscriptionTransitionHandler(op subscriptionTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		sub, err := op(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func isEntitlementError(err error) bool {
	return errors.Is(err, subscription.ErrNoActiveSubscription) ||
		errors.Is(err, subscription.ErrSubscriptionExpired) ||
		errors.Is(err, subscription.ErrQuotaExhausted)
}
