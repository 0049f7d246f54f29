package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/models"
)

// Storage aggregates all repositories and allows running them in one
// database transaction
type Storage interface {
	Transaction() TransactionRepo
	Balance() BalanceRepo
	Customer() CustomerRepo
	Card() CardRepo

	// InTx runs fn with a Storage bound to a single db transaction.
	// Commits when fn returns nil, rolls back otherwise.
	InTx(ctx context.Context, fn func(Storage) error) error
}

// TransactionFilter selects ledger entries. Zero-valued fields are ignored.
type TransactionFilter struct {
	ID            *uuid.UUID
	UserID        *uuid.UUID
	ExternalRef   *string
	Type          string
	Status        string
	PaymentMethod string
	MethodID      string
	IsResolved    *bool
}

// TransactionPatch is a partial update. Nil fields are left unchanged.
// MergeMetadata keys are merged into the stored metadata map.
type TransactionPatch struct {
	Status        *string
	ExternalRef   *string
	IsResolved    *bool
	AppliedAt     *time.Time
	MergeMetadata models.Metadata
}

type CreateTransactionParams struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Operator      string
	Type          string
	PaymentMethod string
	Status        string
	ExternalRef   *string
	MethodID      string
	Description   string
	IsResolved    bool
	AppliedAt     *time.Time
	Metadata      models.Metadata
}

type ListTransactionsOpts struct {
	UserID   *uuid.UUID
	Statuses []string
	Types    []string
	Methods  []string
	From     *time.Time
	To       *time.Time

	// Sort column: "created_at" (default), "amount" or "updated_at"
	OrderBy string
	Desc    bool

	Limit  int
	Offset int
}

// SeriesRow is one reporting bucket with credit and debit sums
type SeriesRow struct {
	Bucket string
	Date   time.Time
	In     decimal.Decimal
	Out    decimal.Decimal
}

type SeriesOpts struct {
	UserID uuid.UUID
	From   time.Time
	To     time.Time

	// Postgres to_char format defining the bucket ('YYYY-MM-DD', 'YYYY-MM', 'YYYY')
	Format string
}

type Totals struct {
	In  decimal.Decimal
	Out decimal.Decimal
}

// TransactionRepo is the ledger store contract
type TransactionRepo interface {
	// Create single ledger entry
	// Duplicate external reference for the same (user, type) must return
	// apperrors.ErrDuplicateExternalRef
	CreateTransaction(ctx context.Context, params CreateTransactionParams) (models.Transaction, error)

	// Get single entry matching filter
	// If no entry matches must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, filter TransactionFilter) (models.Transaction, error)

	// UpdateTransaction applies patch to the single entry matching filter.
	// The filter acts as a compare-and-set: include the expected status so a
	// concurrent confirmation matches zero rows. Zero matched rows return
	// apperrors.ErrTransactionNotFound; idempotent callers treat that as
	// already handled.
	UpdateTransaction(ctx context.Context, filter TransactionFilter, patch TransactionPatch) (models.Transaction, error)

	// MarkApplied sets applied_at only when it is not set yet, so the balance
	// effect of an entry is applied exactly once. Already applied or missing
	// entries return apperrors.ErrTransactionNotFound.
	MarkApplied(ctx context.Context, id uuid.UUID, at time.Time) error

	ListTransactions(ctx context.Context, opts ListTransactionsOpts) ([]models.Transaction, error)

	// ListPendingConfirmation returns unresolved entries with an external
	// reference created before the given time, oldest first
	ListPendingConfirmation(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)

	// ListUnapplied returns succeeded entries whose balance effect has not
	// been applied yet, last touched before the given time
	ListUnapplied(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)

	// AmountSeries aggregates succeeded entries into reporting buckets
	AmountSeries(ctx context.Context, opts SeriesOpts) ([]SeriesRow, error)

	// AmountTotals sums succeeded credits and debits over the whole ledger
	AmountTotals(ctx context.Context, userID uuid.UUID) (Totals, error)
}

// BalanceRepo is the balance store contract. All mutations are atomic at the
// storage layer: no read-modify-write.
type BalanceRepo interface {
	// Get user balance
	// If user has no balance yet must return apperrors.ErrUserNotFound
	GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error)

	// IncrementDeposit atomically adds delta (may be negative) and creates
	// the balance implicitly when missing
	IncrementDeposit(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Balance, error)

	// DecrementIfEnough atomically subtracts amount only when the deposit
	// covers it. Must return apperrors.ErrBalanceInsufficient otherwise,
	// leaving the balance untouched.
	DecrementIfEnough(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Balance, error)
}

type CustomerRepo interface {
	// Get processor customer record
	// If absent must return apperrors.ErrCustomerNotFound
	GetCustomer(ctx context.Context, userID uuid.UUID) (models.Customer, error)

	// SetStripeCustomer upserts the customer record with the stripe id
	SetStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) (models.Customer, error)
}

type AttachCardParams struct {
	ID          string
	UserID      uuid.UUID
	Method      string
	Brand       string
	Last4       string
	Fingerprint string
	IsDefault   bool
}

type CardRepo interface {
	AttachCard(ctx context.Context, params AttachCardParams) (models.Card, error)

	// Get card including removed ones
	// If absent must return apperrors.ErrCardNotFound
	GetCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error)

	ListCards(ctx context.Context, userID uuid.UUID, includeRemoved bool) ([]models.Card, error)

	// SetDefaultCard makes methodID the only default card of the user
	SetDefaultCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error)

	// ActivateCard moves the card from pending to active.
	// Already active cards return apperrors.ErrCardAlreadyActive.
	ActivateCard(ctx context.Context, userID uuid.UUID, methodID string, at time.Time) (models.Card, error)

	// RemoveCard soft-deletes: sets removed_at, never deletes the row
	RemoveCard(ctx context.Context, userID uuid.UUID, methodID string, at time.Time) (models.Card, error)
}
