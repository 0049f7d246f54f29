package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TopicTransactionResolved = "transaction_resolved"

// TransactionResolved is emitted when a ledger entry reaches a terminal state
// and, for balance-affecting entries, its balance effect has been applied
type TransactionResolved struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Type          string          `json:"type"`
	Operator      string          `json:"operator"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(topic string, event any) error
}

// NoopPublisher drops events, used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, any) error { return nil }
