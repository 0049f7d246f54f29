package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the per-user deposit. It is created implicitly on the first
// balance-affecting event and mutated only by the payment engine.
type Balance struct {
	UserID    uuid.UUID
	Deposit   decimal.Decimal
	UpdatedAt time.Time
}
