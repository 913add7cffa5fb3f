package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/events"
	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/payment"
	redisclient "github.com/caremesh/telehealth-booking/internal/redis"
	"github.com/caremesh/telehealth-booking/internal/store"
	"github.com/caremesh/telehealth-booking/internal/subscription"
)

var (
	ErrSlotUnavailable   = errors.New("requested slot conflicts with an existing appointment")
	ErrSlotContended     = errors.New("provider schedule is being booked, please retry")
	ErrIllegalTransition = errors.New("illegal appointment status transition")
	ErrInvalidDuration   = errors.New("duration must be between 15 and 180 minutes")
	ErrInvalidSchedule   = errors.New("appointment must be scheduled in the future")
	ErrNotStartable      = errors.New("appointment window has not elapsed yet")
)

const txTimeout = 10 * time.Second

// QuotaGate is the entitlement slice the lifecycle manager needs.
type QuotaGate interface {
	Consume(ctx context.Context, q store.Querier, userID uuid.UUID, category subscription.Category) (subscription.ConsumeResult, error)
	RefundQuota(ctx context.Context, q store.Querier, subscriptionID uuid.UUID, category subscription.Category) error
}

// PaymentIntents is the payment orchestrator slice the lifecycle manager needs.
type PaymentIntents interface {
	CreateIntent(ctx context.Context, q store.Querier, in payment.CreateIntentInput) (*payment.Payment, error)
	RegisterWithGateway(ctx context.Context, p *payment.Payment)
	GetBySubjectForUpdate(ctx context.Context, q store.Querier, subject payment.SubjectRef) (*payment.Payment, error)
	CancelPending(ctx context.Context, q store.Querier, paymentID uuid.UUID) error
	Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*payment.Refund, error)
	FindStalePending(ctx context.Context, subjectType payment.SubjectType, olderThan time.Time) ([]payment.Payment, error)
}

// VideoSessions is invoked only once an appointment is CONFIRMED; the engine
// owns the precondition, not the media.
type VideoSessions interface {
	CreateSession(ctx context.Context, appointmentID, patientID, providerID uuid.UUID) (string, error)
}

// Service is the appointment lifecycle manager.
type Service struct {
	repo      Repository
	pool      store.DB
	locker    redisclient.Locker
	gate      QuotaGate
	payments  PaymentIntents
	video     VideoSessions
	publisher events.Publisher
	policy    CancellationPolicy
	log       *zap.Logger
}

func NewService(
	repo Repository,
	pool store.DB,
	locker redisclient.Locker,
	gate QuotaGate,
	payments PaymentIntents,
	video VideoSessions,
	publisher events.Publisher,
	policy CancellationPolicy,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		pool:      pool,
		locker:    locker,
		gate:      gate,
		payments:  payments,
		video:     video,
		publisher: publisher,
		policy:    policy,
		log:       log,
	}
}

type CreateRequest struct {
	PatientID       uuid.UUID // honored for admins; patients book for themselves
	ProviderID      uuid.UUID
	Type            Type
	Mode            Mode
	ScheduledAt     time.Time
	DurationMinutes int
	Method          payment.Method
}

// Create books an appointment. Conflict check, quota consumption, appointment
// insert, and payment intent all commit or roll back as one transaction; the
// provider lock serializes racing bookings so the loser sees the winner's row.
func (s *Service) Create(ctx context.Context, actor identity.Identity, req CreateRequest) (*Appointment, *payment.Payment, error) {
	patientID := req.PatientID
	if actor.Role == identity.RolePatient {
		patientID = actor.UserID
	} else if actor.Role != identity.RoleAdmin {
		return nil, nil, ErrNotFound
	}

	if !ValidType(req.Type) || !ValidMode(req.Mode) {
		return nil, nil, fmt.Errorf("%w: unknown type or mode", ErrIllegalTransition)
	}
	if req.DurationMinutes < MinDurationMinutes || req.DurationMinutes > MaxDurationMinutes {
		return nil, nil, ErrInvalidDuration
	}
	if !req.ScheduledAt.After(time.Now()) {
		return nil, nil, ErrInvalidSchedule
	}

	if _, err := s.repo.GetPatientByID(ctx, s.pool, patientID); err != nil {
		return nil, nil, err
	}

	provider, err := s.repo.GetProviderByID(ctx, s.pool, req.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	if !provider.Active {
		return nil, nil, ErrProviderInactive
	}

	windowStart := req.ScheduledAt
	windowEnd := req.ScheduledAt.Add(time.Duration(req.DurationMinutes) * time.Minute)

	var (
		created *Appointment
		pay     *payment.Payment
	)

	err = s.locker.WithProviderLock(ctx, req.ProviderID, func(lockCtx context.Context) error {
		return store.InTx(lockCtx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
			if err := s.repo.LockProviderSchedule(txCtx, tx, req.ProviderID); err != nil {
				return err
			}

			conflict, err := s.repo.HasConflict(txCtx, tx, req.ProviderID, windowStart, windowEnd, nil)
			if err != nil {
				return err
			}
			if conflict {
				return ErrSlotUnavailable
			}

			quota, err := s.gate.Consume(txCtx, tx, patientID, req.Type.Category())
			if err != nil {
				return err
			}

			appt := &Appointment{
				ID:              uuid.New(),
				PatientID:       patientID,
				ProviderID:      req.ProviderID,
				Type:            req.Type,
				Mode:            req.Mode,
				ScheduledAt:     req.ScheduledAt,
				DurationMinutes: req.DurationMinutes,
				Status:          StatusScheduled,
				SubscriptionID:  &quota.SubscriptionID,
				QuotaConsumed:   quota.Consumed,
			}
			if err := s.repo.Insert(txCtx, tx, appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			pay, err = s.payments.CreateIntent(txCtx, tx, payment.CreateIntentInput{
				BaseFee: provider.Fee(req.Mode),
				Method:  req.Method,
				Subject: payment.SubjectRef{Type: payment.SubjectAppointment, ID: appt.ID},
			})
			if err != nil {
				return fmt.Errorf("create payment intent: %w", err)
			}

			created = appt
			s.logEvent(txCtx, tx, appt.ID, events.AppointmentCreated, map[string]any{
				"provider_id":  req.ProviderID.String(),
				"patient_id":   patientID.String(),
				"scheduled_at": req.ScheduledAt,
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, nil, ErrSlotContended
		}
		return nil, nil, err
	}

	s.payments.RegisterWithGateway(ctx, pay)
	s.publish(ctx, events.AppointmentCreated, created.ID, nil)

	return created, pay, nil
}

// UpdateStatus applies a caller-driven lifecycle transition. Confirmation is
// reserved for the payment path (admins may force it); cancellation has its
// own operation.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Identity, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(appt.Status, to) {
		return nil, ErrIllegalTransition
	}
	switch to {
	case StatusCancelled:
		return nil, fmt.Errorf("%w: use the cancel operation", ErrIllegalTransition)
	case StatusConfirmed:
		if actor.Role != identity.RoleAdmin {
			return nil, ErrIllegalTransition
		}
	case StatusNoShow:
		if time.Now().Before(appt.WindowEnd()) {
			return nil, ErrNotStartable
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, s.pool, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost a race with another transition.
			return nil, ErrIllegalTransition
		}
		return nil, err
	}

	eventType := statusEvent(to)
	if eventType != "" {
		s.publish(ctx, eventType, updated.ID, nil)
	}

	return updated, nil
}

// Cancel releases the slot, restores consumed quota, and settles the payment:
// pending intents are voided, completed ones refunded per the cancellation
// policy.
func (s *Service) Cancel(ctx context.Context, actor identity.Identity, id uuid.UUID, reason string) (*Appointment, error) {
	if _, err := s.authorized(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor.UserID, id, reason)
}

func (s *Service) cancel(ctx context.Context, actorID, id uuid.UUID, reason string) (*Appointment, error) {
	var (
		cancelled  *Appointment
		toRefund   *payment.Payment
		refundBase time.Time
	)

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		appt, err := s.repo.GetByIDForUpdate(txCtx, tx, id)
		if err != nil {
			return err
		}

		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			return ErrIllegalTransition
		}

		updated, err := s.repo.UpdateStatus(txCtx, tx, id, appt.Status, StatusCancelled)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		oldTime := appt.ScheduledAt
		if err := s.repo.InsertHistory(txCtx, tx, HistoryEntry{
			AppointmentID: id,
			Action:        HistoryCancelled,
			Reason:        reason,
			ActorID:       actorID,
			OldTime:       &oldTime,
		}); err != nil {
			return err
		}

		if appt.QuotaConsumed && appt.SubscriptionID != nil {
			if err := s.gate.RefundQuota(txCtx, tx, *appt.SubscriptionID, appt.Type.Category()); err != nil {
				return err
			}
		}

		// The payment row is locked for the rest of the transaction so a
		// webhook cannot flip it to COMPLETED between this read and the
		// settlement decision below.
		subject := payment.SubjectRef{Type: payment.SubjectAppointment, ID: id}
		p, err := s.payments.GetBySubjectForUpdate(txCtx, tx, subject)
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			// No payment to settle.
		case err != nil:
			return err
		case p.Status == payment.StatusPending:
			if err := s.payments.CancelPending(txCtx, tx, p.ID); err != nil {
				return err
			}
		case p.Status == payment.StatusCompleted:
			toRefund = p
			refundBase = appt.ScheduledAt
		}

		cancelled = updated
		s.logEvent(txCtx, tx, id, events.AppointmentCancelled, map[string]any{
			"reason": reason,
			"actor":  actorID.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if toRefund != nil {
		amount := s.policy.RefundAmount(toRefund, refundBase, time.Now())
		if amount > 0 {
			if _, err := s.payments.Refund(ctx, toRefund.ID, amount, "appointment cancelled: "+reason); err != nil {
				s.log.Error("cancellation refund failed",
					zap.String("appointment_id", id.String()),
					zap.String("payment_id", toRefund.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	s.publish(ctx, events.AppointmentCancelled, id, map[string]any{"reason": reason})
	return cancelled, nil
}

// Reschedule moves the appointment to a new window after re-running the
// conflict check against everyone else's slots. Failure leaves the original
// window and status untouched.
func (s *Service) Reschedule(ctx context.Context, actor identity.Identity, id uuid.UUID, newTime time.Time, reason string) (*Appointment, error) {
	if !newTime.After(time.Now()) {
		return nil, ErrInvalidSchedule
	}

	appt, err := s.authorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	var moved *Appointment

	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		return store.InTx(lockCtx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
			current, err := s.repo.GetByIDForUpdate(txCtx, tx, id)
			if err != nil {
				return err
			}
			if current.Status != StatusScheduled && current.Status != StatusConfirmed {
				return ErrIllegalTransition
			}

			if err := s.repo.LockProviderSchedule(txCtx, tx, current.ProviderID); err != nil {
				return err
			}

			windowEnd := newTime.Add(time.Duration(current.DurationMinutes) * time.Minute)
			conflict, err := s.repo.HasConflict(txCtx, tx, current.ProviderID, newTime, windowEnd, &id)
			if err != nil {
				return err
			}
			if conflict {
				return ErrSlotUnavailable
			}

			updated, err := s.repo.Reschedule(txCtx, tx, id, newTime)
			if err != nil {
				return fmt.Errorf("reschedule appointment: %w", err)
			}

			oldTime := current.ScheduledAt
			if err := s.repo.InsertHistory(txCtx, tx, HistoryEntry{
				AppointmentID: id,
				Action:        HistoryRescheduled,
				Reason:        reason,
				ActorID:       actor.UserID,
				OldTime:       &oldTime,
				NewTime:       &newTime,
			}); err != nil {
				return err
			}

			moved = updated
			s.logEvent(txCtx, tx, id, events.AppointmentRescheduled, map[string]any{
				"old_time": oldTime,
				"new_time": newTime,
				"reason":   reason,
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	s.publish(ctx, events.AppointmentRescheduled, id, nil)
	return moved, nil
}

// HandlePaymentResolved applies a reconciled payment outcome to its
// appointment: completion confirms it and opens the video session, failure
// releases the booking through the normal cancel path.
func (s *Service) HandlePaymentResolved(ctx context.Context, p *payment.Payment) error {
	if p.Subject.Type != payment.SubjectAppointment {
		return fmt.Errorf("payment %s does not reference an appointment", p.ID)
	}

	switch p.Status {
	case payment.StatusCompleted:
		return s.confirm(ctx, p.Subject.ID)
	case payment.StatusFailed, payment.StatusCancelled:
		_, err := s.cancel(ctx, uuid.Nil, p.Subject.ID, "payment "+string(p.Status))
		if errors.Is(err, ErrIllegalTransition) {
			// Already cancelled or progressed; nothing to unwind.
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) confirm(ctx context.Context, id uuid.UUID) error {
	var confirmed *Appointment

	err := store.InTx(ctx, s.pool, txTimeout, func(txCtx context.Context, tx pgx.Tx) error {
		appt, err := s.repo.GetByIDForUpdate(txCtx, tx, id)
		if err != nil {
			return err
		}
		if appt.Status != StatusScheduled {
			// Replayed webhook or a racing cancel; confirmation is not forced.
			return nil
		}

		updated, err := s.repo.UpdateStatus(txCtx, tx, id, StatusScheduled, StatusConfirmed)
		if err != nil {
			return fmt.Errorf("confirm appointment: %w", err)
		}
		confirmed = updated

		s.logEvent(txCtx, tx, id, events.AppointmentConfirmed, nil)
		return nil
	})
	if err != nil || confirmed == nil {
		return err
	}

	if _, err := s.video.CreateSession(ctx, confirmed.ID, confirmed.PatientID, confirmed.ProviderID); err != nil {
		s.log.Error("video session creation failed",
			zap.String("appointment_id", confirmed.ID.String()),
			zap.Error(err),
		)
	}

	s.publish(ctx, events.AppointmentConfirmed, confirmed.ID, nil)
	return nil
}

// ExpirePendingPayments is the background sweep: appointments whose payment
// stayed PENDING beyond the TTL are cancelled through the same path as a user
// cancel, quota refund included.
func (s *Service) ExpirePendingPayments(ctx context.Context, ttl time.Duration) error {
	stale, err := s.payments.FindStalePending(ctx, payment.SubjectAppointment, time.Now().Add(-ttl))
	if err != nil {
		return fmt.Errorf("find stale pending payments: %w", err)
	}

	for _, p := range stale {
		_, err := s.cancel(ctx, uuid.Nil, p.Subject.ID, "payment expired")
		if err != nil && !errors.Is(err, ErrIllegalTransition) && !errors.Is(err, ErrNotFound) {
			s.log.Error("expiry cancel failed",
				zap.String("appointment_id", p.Subject.ID.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Service) Get(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Appointment, error) {
	return s.authorized(ctx, actor, id)
}

func (s *Service) History(ctx context.Context, actor identity.Identity, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.authorized(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.pool, id)
}

func (s *Service) ListByPatient(ctx context.Context, actor identity.Identity, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if actor.Role == identity.RolePatient && actor.UserID != patientID {
		return nil, ErrNotFound
	}
	if actor.Role == identity.RoleProvider {
		return nil, ErrNotFound
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListByPatient(ctx, s.pool, patientID, limit, offset)
}

func (s *Service) ListByProvider(ctx context.Context, actor identity.Identity, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if actor.Role == identity.RoleProvider && actor.UserID != providerID {
		return nil, ErrNotFound
	}
	if actor.Role == identity.RolePatient {
		return nil, ErrNotFound
	}
	return s.repo.ListByProvider(ctx, s.pool, providerID, from, to)
}

// authorized loads the appointment and enforces that the caller is its
// patient, its provider, or an admin. Anything else looks like not-found.
func (s *Service) authorized(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case identity.RoleAdmin:
	case identity.RolePatient:
		if appt.PatientID != actor.UserID {
			return nil, ErrNotFound
		}
	case identity.RoleProvider:
		if appt.ProviderID != actor.UserID {
			return nil, ErrNotFound
		}
	default:
		return nil, ErrNotFound
	}

	return appt, nil
}

func (s *Service) logEvent(ctx context.Context, q store.Querier, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Warn("marshal event payload failed", zap.String("event", eventType), zap.Error(err))
			data = nil
		}
	}

	apptID := appointmentID
	if err := s.repo.InsertEvent(ctx, q, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}); err != nil {
		s.log.Warn("insert event log failed",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, subjectID uuid.UUID, payload map[string]any) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:      eventType,
		SubjectID: subjectID,
		At:        time.Now(),
		Payload:   payload,
	})
	if err != nil {
		s.log.Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
	}
}

func statusEvent(to Status) string {
	switch to {
	case StatusConfirmed:
		return events.AppointmentConfirmed
	case StatusInProgress:
		return events.AppointmentStarted
	case StatusCompleted:
		return events.AppointmentCompleted
	case StatusNoShow:
		return events.AppointmentNoShow
	}
	return ""
}
