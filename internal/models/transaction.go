package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry statuses
// PENDING may move to SUCCEEDED, FAILED or INCOMPLETE.
// INCOMPLETE waits for an out-of-band user action (3-D secure) and may still
// move to SUCCEEDED or FAILED. SUCCEEDED and FAILED are terminal.
const (
	TxStatusPending    = "PENDING"
	TxStatusIncomplete = "INCOMPLETE"
	TxStatusSucceeded  = "SUCCEEDED"
	TxStatusFailed     = "FAILED"
)

// Balance effect direction
const (
	OperatorCredit = "credit"
	OperatorDebit  = "debit"
	OperatorNone   = "none"
)

// Transaction kinds. The set is open: reporting treats unknown kinds by their
// operator only.
const (
	TxTypeTopUp         = "user-top-up"
	TxTypeServiceCharge = "service-charge"
	TxTypeActiveCardFee = "active-card-fee"
	TxTypeRefund        = "refund"
)

// Payment methods
const (
	MethodStripe   = "stripe"
	MethodPaypal   = "paypal"
	MethodInternal = "internal"
)

// Metadata documented keys. Values are free-form strings; keys outside this
// list are preserved but have no meaning to the engine.
const (
	MetaServiceFee   = "service_fee"
	MetaTaxCharge    = "tax_charge"
	MetaBaseAmount   = "base_amount"
	MetaContextID    = "context_id"
	MetaClientSecret = "client_secret"
)

type Metadata map[string]string

// Transaction is a single ledger entry: one record per monetary event.
type Transaction struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID        uuid.UUID
	Amount        decimal.Decimal
	Operator      string
	Type          string
	PaymentMethod string
	Status        string

	// Processor-assigned id (payment intent / order id). Set once the
	// processor call completes, unique per (user, type).
	ExternalRef *string

	// Processor payment method id, set for card activation fees
	MethodID string

	Description string

	// IsResolved marks the entry reached a terminal, reconciled state
	IsResolved bool

	// AppliedAt is set when the entry's balance effect has been applied.
	// Nil on a SUCCEEDED credit entry means the increment is still owed
	// and the reconciler will repair it.
	AppliedAt *time.Time

	Metadata Metadata
}

// Terminal reports whether no further status transitions are permitted.
func (t Transaction) Terminal() bool {
	return t.Status == TxStatusSucceeded || t.Status == TxStatusFailed
}
