package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer links a user to its processor-side customer record
type Customer struct {
	UserID           uuid.UUID
	CreatedAt        time.Time
	StripeCustomerID *string
}

// Card activation states
const (
	CardStatusPending = "pending"
	CardStatusActive  = "active"
)

// Card is a processor-assigned payment method handle. Cards are never hard
// deleted: removal sets RemovedAt to preserve the audit trail.
type Card struct {
	// Processor payment method id
	ID     string
	UserID uuid.UUID

	Method      string
	Brand       string
	Last4       string
	Fingerprint string

	Status    string
	IsDefault bool

	CreatedAt   time.Time
	ActivatedAt *time.Time
	RemovedAt   *time.Time
}

func (c Card) Removed() bool {
	return c.RemovedAt != nil
}
