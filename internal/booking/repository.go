package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/store"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderInactive = errors.New("provider is not accepting appointments")
	// ErrNotFound deliberately covers both a missing appointment and a caller
	// without rights to it, so existence cannot be probed.
	ErrNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the lifecycle service.
// Methods take a store.Querier so conflict checks and writes share one
// transaction.
type Repository interface {
	GetPatientByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Provider, error)
	// LockProviderSchedule serializes writers for one provider's calendar for
	// the rest of the transaction.
	LockProviderSchedule(ctx context.Context, q store.Querier, providerID uuid.UUID) error

	// HasConflict reports an overlapping slot-occupying appointment in
	// [windowStart, windowEnd), half-open. excludeID ignores the appointment
	// being rescheduled.
	HasConflict(ctx context.Context, q store.Querier, providerID uuid.UUID, windowStart, windowEnd time.Time, excludeID *uuid.UUID) (bool, error)

	Insert(ctx context.Context, q store.Querier, a *Appointment) error
	GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error)
	GetByIDForUpdate(ctx context.Context, q store.Querier, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Appointment, error)
	// Reschedule moves the appointment and drops it back to SCHEDULED.
	Reschedule(ctx context.Context, q store.Querier, id uuid.UUID, newTime time.Time) (*Appointment, error)

	InsertHistory(ctx context.Context, q store.Querier, h HistoryEntry) error
	ListHistory(ctx context.Context, q store.Querier, appointmentID uuid.UUID) ([]HistoryEntry, error)

	ListByPatient(ctx context.Context, q store.Querier, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, q store.Querier, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, q store.Querier, ev EventLog) error
}
