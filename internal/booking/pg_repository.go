package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caremesh/telehealth-booking/internal/store"
)

type PgRepository struct{}

func NewPgRepository() *PgRepository {
	return &PgRepository{}
}

const appointmentColumns = `
	id, patient_id, provider_id, type, mode, scheduled_at, duration_minutes,
	status, subscription_id, quota_consumed, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.Active,
		&p.ConsultationFee,
		&p.HomeVisitFee,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var subscriptionID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.Type,
		&a.Mode,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&subscriptionID,
		&a.QuotaConsumed,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.SubscriptionID = subscriptionID
	return &a, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Patient, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Provider, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, specialty, active, consultation_fee, home_visit_fee, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) LockProviderSchedule(ctx context.Context, q store.Querier, providerID uuid.UUID) error {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT id FROM providers WHERE id = $1 FOR UPDATE
	`, providerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("lock provider schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) HasConflict(ctx context.Context, q store.Querier, providerID uuid.UUID, windowStart, windowEnd time.Time, excludeID *uuid.UUID) (bool, error) {
	var conflict bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE provider_id = $1
			  AND status IN ('scheduled', 'confirmed', 'in_progress')
			  AND scheduled_at < $3
			  AND scheduled_at + make_interval(mins => duration_minutes) > $2
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, providerID, windowStart, windowEnd, excludeID).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("conflict check: %w", err)
	}
	return conflict, nil
}

func (r *PgRepository) Insert(ctx context.Context, q store.Querier, a *Appointment) error {
	row := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, provider_id, type, mode, scheduled_at, duration_minutes,
			status, subscription_id, quota_consumed, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.ProviderID, a.Type, a.Mode, a.ScheduledAt, a.DurationMinutes,
		a.Status, a.SubscriptionID, a.QuotaConsumed)

	saved, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *saved
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetByIDForUpdate(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) Reschedule(ctx context.Context, q store.Querier, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    status = 'scheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, newTime)

	return scanAppointment(row)
}

func (r *PgRepository) InsertHistory(ctx context.Context, q store.Querier, h HistoryEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, action, reason, actor_id, old_time, new_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, h.AppointmentID, h.Action, h.Reason, h.ActorID, h.OldTime, h.NewTime)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHistory(ctx context.Context, q store.Querier, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, appointment_id, action, reason, actor_id, old_time, new_time, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.Action, &h.Reason, &h.ActorID, &h.OldTime, &h.NewTime, &h.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, q store.Querier, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, q store.Querier, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, q store.Querier, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
