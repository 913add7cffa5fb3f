package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether a status is sticky. COMPLETED still allows the
// single transition to REFUNDED via the refund path.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

type Method string

const (
	MethodUPI        Method = "upi"
	MethodCard       Method = "card"
	MethodNetBanking Method = "netbanking"
	MethodWallet     Method = "wallet"
)

type SubjectType string

const (
	SubjectAppointment  SubjectType = "appointment"
	SubjectSubscription SubjectType = "subscription"
)

// SubjectRef links a payment to the aggregate it pays for. Payments and their
// subjects are independent aggregates, related by reference only.
type SubjectRef struct {
	Type SubjectType
	ID   uuid.UUID
}

// Payment amounts are minor units of Currency. Amount is the base fee F the
// split is derived from; FinalAmount is what the payer is actually charged.
type Payment struct {
	ID                    uuid.UUID
	Amount                int64
	Currency              string
	Status                Status
	Method                Method
	GatewayOrderRef       string
	GatewayTransactionRef *string
	Subject               SubjectRef
	PlatformFee           int64
	ProviderFee           int64
	TaxAmount             int64
	FinalAmount           int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	Amount           int64
	Reason           string
	Status           RefundStatus
	GatewayRefundRef string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
