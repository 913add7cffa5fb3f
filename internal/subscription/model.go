package subscription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusPending is a purchase awaiting its payment outcome. Only ACTIVE
	// and PAUSED count against the one-subscription-per-user invariant.
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Category is the entitlement bucket an appointment consumes from.
type Category string

const (
	CategoryConsultation Category = "consultation"
	CategoryTherapy      Category = "therapy_session"
)

// Unlimited is the sentinel for quota fields without a cap.
const Unlimited = -1

type Plan struct {
	ID                 uuid.UUID
	Name               string
	Price              int64 // minor currency units
	DurationDays       int
	MaxConsultations   int // Unlimited allowed
	MaxTherapySessions int // Unlimited allowed
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Subscription struct {
	ID                       uuid.UUID
	UserID                   uuid.UUID
	PlanID                   uuid.UUID
	Status                   Status
	StartDate                time.Time
	EndDate                  time.Time
	RemainingConsultations   int
	RemainingTherapySessions int
	AutoRenew                bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Remaining returns the quota counter for a category.
func (s *Subscription) Remaining(category Category) int {
	if category == CategoryTherapy {
		return s.RemainingTherapySessions
	}
	return s.RemainingConsultations
}
