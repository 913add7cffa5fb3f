package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated     = "APPOINTMENT_CREATED"
	AppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	AppointmentStarted     = "APPOINTMENT_STARTED"
	AppointmentCompleted   = "APPOINTMENT_COMPLETED"
	AppointmentCancelled   = "APPOINTMENT_CANCELLED"
	AppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	AppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	SubscriptionPurchased  = "SUBSCRIPTION_PURCHASED"
)

// Event is a lifecycle fact for notification dispatch downstream. Delivery
// (email/SMS/push) is someone else's job.
type Event struct {
	Type      string         `json:"type"`
	SubjectID uuid.UUID      `json:"subject_id"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev Event) error { return nil }
func (NopPublisher) Close()                                      {}
