package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/booking"
	"github.com/caremesh/telehealth-booking/internal/payment"
	"github.com/caremesh/telehealth-booking/internal/subscription"
)

var validate = validator.New()

type CreateAppointmentRequest struct {
	PatientID       string    `json:"patient_id" validate:"omitempty,uuid"`
	ProviderID      string    `json:"provider_id" validate:"required,uuid"`
	Type            string    `json:"type" validate:"required,oneof=consultation follow_up therapy_session emergency"`
	Mode            string    `json:"mode" validate:"required,oneof=video audio in_person home_visit"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=15,max=180"`
	Method          string    `json:"method" validate:"required,oneof=upi card netbanking wallet"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed in_progress completed no_show"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type RescheduleAppointmentRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Reason      string    `json:"reason" validate:"max=500"`
}

type PurchaseSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required,uuid"`
	Method string `json:"method" validate:"required,oneof=upi card netbanking wallet"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	Type            string     `json:"type"`
	Mode            string     `json:"mode"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	SubscriptionID  *uuid.UUID `json:"subscription_id,omitempty"`
	QuotaConsumed   bool       `json:"quota_consumed"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type PaymentResponse struct {
	ID              uuid.UUID `json:"id"`
	Amount          int64     `json:"amount"`
	PlatformFee     int64     `json:"platform_fee"`
	ProviderFee     int64     `json:"provider_fee"`
	TaxAmount       int64     `json:"tax_amount"`
	FinalAmount     int64     `json:"final_amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Method          string    `json:"method"`
	GatewayOrderRef string    `json:"gateway_order_ref"`
}

type CreateAppointmentResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Payment     PaymentResponse     `json:"payment"`
}

type HistoryEntryResponse struct {
	Action    string     `json:"action"`
	Reason    string     `json:"reason,omitempty"`
	ActorID   uuid.UUID  `json:"actor_id"`
	OldTime   *time.Time `json:"old_time,omitempty"`
	NewTime   *time.Time `json:"new_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type SubscriptionResponse struct {
	ID                       uuid.UUID `json:"id"`
	UserID                   uuid.UUID `json:"user_id"`
	PlanID                   uuid.UUID `json:"plan_id"`
	Status                   string    `json:"status"`
	StartDate                time.Time `json:"start_date"`
	EndDate                  time.Time `json:"end_date"`
	RemainingConsultations   int       `json:"remaining_consultations"`
	RemainingTherapySessions int       `json:"remaining_therapy_sessions"`
	AutoRenew                bool      `json:"auto_renew"`
}

type PurchaseSubscriptionResponse struct {
	Subscription SubscriptionResponse `json:"subscription"`
	Payment      PaymentResponse      `json:"payment"`
}

type PlanResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Price              int64     `json:"price"`
	DurationDays       int       `json:"duration_days"`
	MaxConsultations   int       `json:"max_consultations"`
	MaxTherapySessions int       `json:"max_therapy_sessions"`
}

type EligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		Type:            string(a.Type),
		Mode:            string(a.Mode),
		ScheduledAt:     a.ScheduledAt,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		SubscriptionID:  a.SubscriptionID,
		QuotaConsumed:   a.QuotaConsumed,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toPaymentResponse(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		Amount:          p.Amount,
		PlatformFee:     p.PlatformFee,
		ProviderFee:     p.ProviderFee,
		TaxAmount:       p.TaxAmount,
		FinalAmount:     p.FinalAmount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		Method:          string(p.Method),
		GatewayOrderRef: p.GatewayOrderRef,
	}
}

func toSubscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                       s.ID,
		UserID:                   s.UserID,
		PlanID:                   s.PlanID,
		Status:                   string(s.Status),
		StartDate:                s.StartDate,
		EndDate:                  s.EndDate,
		RemainingConsultations:   s.RemainingConsultations,
		RemainingTherapySessions: s.RemainingTherapySessions,
		AutoRenew:                s.AutoRenew,
	}
}

func toHistoryResponse(entries []booking.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, HistoryEntryResponse{
			Action:    string(h.Action),
			Reason:    h.Reason,
			ActorID:   h.ActorID,
			OldTime:   h.OldTime,
			NewTime:   h.NewTime,
			CreatedAt: h.CreatedAt,
		})
	}
	return out
}
