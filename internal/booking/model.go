package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telehealth-booking/internal/subscription"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

type Type string

const (
	TypeConsultation   Type = "consultation"
	TypeTherapySession Type = "therapy_session"
	TypeFollowUp       Type = "follow_up"
	TypeEmergency      Type = "emergency"
)

// Category maps an appointment type to the subscription bucket it consumes.
func (t Type) Category() subscription.Category {
	if t == TypeTherapySession {
		return subscription.CategoryTherapy
	}
	return subscription.CategoryConsultation
}

func ValidType(t Type) bool {
	switch t {
	case TypeConsultation, TypeTherapySession, TypeFollowUp, TypeEmergency:
		return true
	}
	return false
}

type Mode string

const (
	ModeVideo     Mode = "video"
	ModeAudio     Mode = "audio"
	ModeInPerson  Mode = "in_person"
	ModeHomeVisit Mode = "home_visit"
)

func ValidMode(m Mode) bool {
	switch m {
	case ModeVideo, ModeAudio, ModeInPerson, ModeHomeVisit:
		return true
	}
	return false
}

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 180
)

type Provider struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	Active          bool
	ConsultationFee int64 // minor currency units
	HomeVisitFee    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fee is the base fee for an appointment mode, snapshotted into the payment
// at booking time.
func (p *Provider) Fee(mode Mode) int64 {
	if mode == ModeHomeVisit {
		return p.HomeVisitFee
	}
	return p.ConsultationFee
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment occupies the half-open window
// [ScheduledAt, ScheduledAt+DurationMinutes) on its provider's calendar while
// status is SCHEDULED, CONFIRMED, or IN_PROGRESS. Cancellation is a status,
// never a row delete.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	Type            Type
	Mode            Mode
	ScheduledAt     time.Time
	DurationMinutes int
	Status          Status
	SubscriptionID  *uuid.UUID
	QuotaConsumed   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) WindowEnd() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Occupying reports whether the appointment still owns its slot.
func (s Status) Occupying() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

type HistoryAction string

const (
	HistoryCancelled   HistoryAction = "cancelled"
	HistoryRescheduled HistoryAction = "rescheduled"
)

// HistoryEntry records cancellations and reschedules with who did it and why.
type HistoryEntry struct {
	ID            int64
	AppointmentID uuid.UUID
	Action        HistoryAction
	Reason        string
	ActorID       uuid.UUID
	OldTime       *time.Time
	NewTime       *time.Time
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
