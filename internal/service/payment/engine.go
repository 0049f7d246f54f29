// Package payment implements the transaction engine: the ledger-first
// orchestration of top-ups, internal charges and card activation around
// external payment processors.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/events"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/metrics"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/service/otp"
	"github.com/liderhq/payhub/internal/service/processor"
)

// History page bounds
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Config struct {
	// ISO currency code used for every processor charge
	Currency string

	// Top-up amount bounds, inclusive
	MinTopUp decimal.Decimal
	MaxTopUp decimal.Decimal

	// Rates applied on top of the base top-up amount. The base amount is what
	// lands on the deposit, fees only raise the processor charge.
	ServiceFeeRate decimal.Decimal
	TaxRate        decimal.Decimal

	// Flat charge for verifying a new card
	ActivationFee decimal.Decimal

	// Activation code settings
	CodeTTL    time.Duration
	CodeLength int
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.MinTopUp.IsZero() {
		c.MinTopUp = decimal.NewFromInt(1)
	}
	if c.MaxTopUp.IsZero() {
		c.MaxTopUp = decimal.NewFromInt(10_000)
	}
	if c.ServiceFeeRate.IsZero() {
		c.ServiceFeeRate = decimal.NewFromFloat(0.03)
	}
	if c.TaxRate.IsZero() {
		c.TaxRate = decimal.NewFromFloat(0.03)
	}
	if c.ActivationFee.IsZero() {
		c.ActivationFee = decimal.NewFromInt(1)
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = time.Hour
	}
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	return c
}

// Engine owns every ledger transition. Status moves are compare-and-set
// updates, balance effects are applied exactly once, and anything interrupted
// mid-flight is picked up by the reconciler.
type Engine struct {
	cfg       Config
	storage   repository.Storage
	gateways  map[string]processor.Gateway
	codes     otp.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logger.Logger
}

func NewEngine(
	cfg Config,
	storage repository.Storage,
	gateways map[string]processor.Gateway,
	codes otp.Store,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.Logger,
) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = logger.NewNoop()
	}

	return &Engine{
		cfg:       cfg.withDefaults(),
		storage:   storage,
		gateways:  gateways,
		codes:     codes,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithGroup("payment"),
	}
}

type TopUpRequest struct {
	Amount decimal.Decimal

	// Processor name, one of the configured gateways
	Method string

	// Processor payment method id to charge. Empty means the customer default.
	MethodID string

	Description string
}

// TopUpReceipt is the outcome of a top-up request. The ledger entry status
// tells the caller what happens next: SUCCEEDED is settled, INCOMPLETE needs
// the client to finish 3-D secure with ClientSecret, PENDING awaits
// confirmation.
type TopUpReceipt struct {
	Transaction  models.Transaction
	ClientSecret string
}

// RequestTopUp records a PENDING credit entry, then asks the processor to
// charge the amount plus fees. The entry is created before the processor call
// so an interrupted request is never lost, only left pending.
func (e *Engine) RequestTopUp(ctx context.Context, userID uuid.UUID, req TopUpRequest) (TopUpReceipt, error) {
	amount := req.Amount.Round(2)
	if amount.LessThan(e.cfg.MinTopUp) || amount.GreaterThan(e.cfg.MaxTopUp) {
		return TopUpReceipt{}, fmt.Errorf("%w: %s not in [%s, %s]",
			apperrors.ErrAmountInvalid, amount, e.cfg.MinTopUp, e.cfg.MaxTopUp)
	}

	gw, ok := e.gateways[req.Method]
	if !ok {
		return TopUpReceipt{}, fmt.Errorf("%w: %q", apperrors.ErrMethodUnsupported, req.Method)
	}

	var customerID string
	if req.Method == models.MethodStripe {
		customer, err := e.storage.Customer().GetCustomer(ctx, userID)
		if err != nil {
			return TopUpReceipt{}, fmt.Errorf("get customer: %w", err)
		}
		if customer.StripeCustomerID == nil {
			return TopUpReceipt{}, apperrors.ErrCustomerNotFound
		}
		customerID = *customer.StripeCustomerID
	}

	serviceFee := amount.Mul(e.cfg.ServiceFeeRate).Round(2)
	taxCharge := amount.Mul(e.cfg.TaxRate).Round(2)
	total := amount.Add(serviceFee).Add(taxCharge)

	entry, err := e.storage.Transaction().CreateTransaction(ctx, repository.CreateTransactionParams{
		UserID:        userID,
		Amount:        amount,
		Operator:      models.OperatorCredit,
		Type:          models.TxTypeTopUp,
		PaymentMethod: req.Method,
		Status:        models.TxStatusPending,
		MethodID:      req.MethodID,
		Description:   req.Description,
		Metadata: models.Metadata{
			models.MetaBaseAmount: amount.String(),
			models.MetaServiceFee: serviceFee.String(),
			models.MetaTaxCharge:  taxCharge.String(),
		},
	})
	if err != nil {
		return TopUpReceipt{}, fmt.Errorf("create ledger entry: %w", err)
	}

	order, err := gw.CreateOrder(ctx, processor.CreateOrderParams{
		Amount:        total,
		Currency:      e.cfg.Currency,
		UserID:        userID,
		TransactionID: entry.ID,
		CustomerID:    customerID,
		MethodID:      req.MethodID,
		Description:   req.Description,
	})
	if err != nil {
		return e.orderCreateFailed(ctx, entry, req.Method, err)
	}
	e.metrics.ProcessorRequest(req.Method, "ok")

	entry, err = e.attachExternalRef(ctx, entry, order)
	if err != nil {
		return TopUpReceipt{}, err
	}

	return e.settleTopUp(ctx, entry, order)
}

// orderCreateFailed translates a failed order creation. A declined or rejected
// call is terminal and recorded as FAILED, anything else leaves the entry
// PENDING so retrying stays safe.
func (e *Engine) orderCreateFailed(ctx context.Context, entry models.Transaction, method string, err error) (TopUpReceipt, error) {
	if processor.Executed(err) {
		e.metrics.ProcessorRequest(method, "declined")
		failed, markErr := e.markFailed(ctx, entry)
		if markErr != nil {
			return TopUpReceipt{}, markErr
		}
		return TopUpReceipt{Transaction: failed}, errors.Join(apperrors.ErrPaymentFailed, err)
	}

	e.metrics.ProcessorRequest(method, "unavailable")
	e.logger.Warn("processor unavailable, entry left pending",
		"transaction_id", entry.ID, "method", method, "error", err)
	return TopUpReceipt{Transaction: entry}, errors.Join(apperrors.ErrProcessorUnavailable, err)
}

// attachExternalRef binds the processor order id to the entry. The update is
// conditional on the current status so a concurrent resolution is not undone.
func (e *Engine) attachExternalRef(ctx context.Context, entry models.Transaction, order processor.Order) (models.Transaction, error) {
	patch := repository.TransactionPatch{ExternalRef: &order.ExternalID}
	if order.ClientSecret != "" {
		patch.MergeMetadata = models.Metadata{models.MetaClientSecret: order.ClientSecret}
	}

	updated, err := e.storage.Transaction().UpdateTransaction(ctx,
		repository.TransactionFilter{ID: &entry.ID, Status: entry.Status}, patch)
	if err != nil {
		return entry, fmt.Errorf("attach external ref: %w", err)
	}

	return updated, nil
}

func (e *Engine) settleTopUp(ctx context.Context, entry models.Transaction, order processor.Order) (TopUpReceipt, error) {
	receipt := TopUpReceipt{Transaction: entry, ClientSecret: order.ClientSecret}

	switch order.Status {
	case processor.StatusSucceeded:
		updated, err := e.markSucceeded(ctx, entry)
		if err != nil {
			return receipt, err
		}
		receipt.Transaction = updated

	case processor.StatusRequiresAction:
		incomplete := models.TxStatusIncomplete
		updated, err := e.storage.Transaction().UpdateTransaction(ctx,
			repository.TransactionFilter{ID: &entry.ID, Status: entry.Status},
			repository.TransactionPatch{Status: &incomplete})
		if err != nil && !errors.Is(err, apperrors.ErrTransactionNotFound) {
			return receipt, fmt.Errorf("mark incomplete: %w", err)
		}
		if err == nil {
			receipt.Transaction = updated
		}

	case processor.StatusDeclined:
		updated, err := e.markFailed(ctx, entry)
		if err != nil {
			return receipt, err
		}
		receipt.Transaction = updated
		return receipt, apperrors.ErrPaymentFailed
	}

	return receipt, nil
}

// ConfirmTopUp settles a previously requested top-up identified by the
// processor order id. Safe to call any number of times: an already resolved
// entry is returned as is, and the status transition is a compare-and-set so
// concurrent confirmations increment the deposit once.
func (e *Engine) ConfirmTopUp(ctx context.Context, userID uuid.UUID, externalRef string) (models.Transaction, error) {
	entry, err := e.storage.Transaction().GetTransaction(ctx, repository.TransactionFilter{
		UserID:      &userID,
		ExternalRef: &externalRef,
		Type:        models.TxTypeTopUp,
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if entry.Terminal() {
		// Crash window repair: resolved but the deposit increment is still owed
		if entry.Status == models.TxStatusSucceeded && entry.AppliedAt == nil {
			if err := e.applyResolved(ctx, entry); err != nil {
				return entry, err
			}
		}
		return entry, nil
	}

	return e.confirmEntry(ctx, entry)
}

// confirmEntry fetches the processor-side state of an unresolved entry and
// moves the entry accordingly. Shared by the confirm endpoint and the
// reconciler.
func (e *Engine) confirmEntry(ctx context.Context, entry models.Transaction) (models.Transaction, error) {
	gw, ok := e.gateways[entry.PaymentMethod]
	if !ok {
		return entry, fmt.Errorf("%w: %q", apperrors.ErrMethodUnsupported, entry.PaymentMethod)
	}
	if entry.ExternalRef == nil {
		return entry, fmt.Errorf("entry %s has no external ref", entry.ID)
	}

	order, err := gw.GetOrder(ctx, *entry.ExternalRef)
	if err != nil {
		return e.entryOrderFailed(ctx, entry, err)
	}

	if order.Status == processor.StatusApproved {
		order, err = gw.Capture(ctx, *entry.ExternalRef)
		if err != nil {
			return e.entryOrderFailed(ctx, entry, err)
		}
	}
	e.metrics.ProcessorRequest(entry.PaymentMethod, "ok")

	switch order.Status {
	case processor.StatusSucceeded:
		return e.markSucceeded(ctx, entry)
	case processor.StatusDeclined:
		updated, err := e.markFailed(ctx, entry)
		if err != nil {
			return updated, err
		}
		return updated, apperrors.ErrPaymentFailed
	default:
		// Still in flight on the processor side, nothing recorded
		return entry, nil
	}
}

func (e *Engine) entryOrderFailed(ctx context.Context, entry models.Transaction, err error) (models.Transaction, error) {
	if processor.Executed(err) {
		e.metrics.ProcessorRequest(entry.PaymentMethod, "declined")
		updated, markErr := e.markFailed(ctx, entry)
		if markErr != nil {
			return updated, markErr
		}
		return updated, errors.Join(apperrors.ErrPaymentFailed, err)
	}

	e.metrics.ProcessorRequest(entry.PaymentMethod, "unavailable")
	return entry, errors.Join(apperrors.ErrProcessorUnavailable, err)
}

// ChargeServiceFee debits the deposit and records the matching ledger entry in
// one database transaction. The conditional decrement rejects the charge when
// the deposit does not cover it, so no entry is written on insufficient funds.
func (e *Engine) ChargeServiceFee(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, contextID string, description string) (models.Transaction, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return models.Transaction{}, fmt.Errorf("%w: %s", apperrors.ErrAmountInvalid, amount)
	}

	var entry models.Transaction
	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		if _, err := s.Balance().DecrementIfEnough(ctx, userID, amount); err != nil {
			return err
		}

		now := time.Now()
		created, err := s.Transaction().CreateTransaction(ctx, repository.CreateTransactionParams{
			UserID:        userID,
			Amount:        amount,
			Operator:      models.OperatorDebit,
			Type:          models.TxTypeServiceCharge,
			PaymentMethod: models.MethodInternal,
			Status:        models.TxStatusSucceeded,
			Description:   description,
			IsResolved:    true,
			AppliedAt:     &now,
			Metadata:      models.Metadata{models.MetaContextID: contextID},
		})
		if err != nil {
			return err
		}

		entry = created
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	e.metrics.TransactionResolved(entry.Type, entry.Status)
	e.publishResolved(entry)

	return entry, nil
}

// GetBalance returns the deposit, implicitly zero for users without entries
func (e *Engine) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	balance, err := e.storage.Balance().GetBalance(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return models.Balance{UserID: userID, Deposit: decimal.Zero}, nil
	}
	return balance, err
}

// History lists the user's ledger entries, newest first by default
func (e *Engine) History(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	opts.UserID = &userID
	if opts.Limit <= 0 || opts.Limit > maxPageSize {
		opts.Limit = defaultPageSize
	}
	if opts.OrderBy == "" {
		opts.OrderBy = "created_at"
		opts.Desc = true
	}

	return e.storage.Transaction().ListTransactions(ctx, opts)
}

// markSucceeded moves an unresolved entry to SUCCEEDED and applies its balance
// effect. The transition is conditional on the entry's current status, so of
// two racing callers exactly one proceeds and the other observes a silent miss.
// Card activation fees stay unresolved, their flow closes at code verification.
func (e *Engine) markSucceeded(ctx context.Context, entry models.Transaction) (models.Transaction, error) {
	succeeded := models.TxStatusSucceeded
	resolved := entry.Type != models.TxTypeActiveCardFee

	updated, err := e.storage.Transaction().UpdateTransaction(ctx,
		repository.TransactionFilter{ID: &entry.ID, Status: entry.Status},
		repository.TransactionPatch{Status: &succeeded, IsResolved: &resolved})

	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		// Lost the race, the winner applies the balance effect
		return entry, nil
	case err != nil:
		return entry, fmt.Errorf("mark succeeded: %w", err)
	}

	e.metrics.TransactionResolved(updated.Type, updated.Status)

	if err := e.applyResolved(ctx, updated); err != nil {
		// The entry is SUCCEEDED with applied_at unset, the reconciler repairs it
		e.logger.Warn("balance application deferred",
			"transaction_id", updated.ID, "error", err)
	}

	return updated, nil
}

func (e *Engine) markFailed(ctx context.Context, entry models.Transaction) (models.Transaction, error) {
	failed := models.TxStatusFailed
	resolved := true

	updated, err := e.storage.Transaction().UpdateTransaction(ctx,
		repository.TransactionFilter{ID: &entry.ID, Status: entry.Status},
		repository.TransactionPatch{Status: &failed, IsResolved: &resolved})

	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		return entry, nil
	case err != nil:
		return entry, fmt.Errorf("mark failed: %w", err)
	}

	e.metrics.TransactionResolved(updated.Type, updated.Status)
	e.publishResolved(updated)

	return updated, nil
}

// applyResolved applies the balance effect of a succeeded entry exactly once.
// The applied_at guard and the deposit change commit in one database
// transaction, so delivery is at-least-once but the increment is not.
func (e *Engine) applyResolved(ctx context.Context, entry models.Transaction) error {
	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		if err := s.Transaction().MarkApplied(ctx, entry.ID, time.Now()); err != nil {
			return err
		}

		switch entry.Operator {
		case models.OperatorCredit:
			_, err := s.Balance().IncrementDeposit(ctx, entry.UserID, entry.Amount)
			return err
		case models.OperatorDebit:
			_, err := s.Balance().IncrementDeposit(ctx, entry.UserID, entry.Amount.Neg())
			return err
		default:
			return nil
		}
	})

	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		// Already applied by a concurrent caller
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply balance: %w", err)
	}

	e.publishResolved(entry)
	return nil
}

func (e *Engine) publishResolved(entry models.Transaction) {
	event := events.TransactionResolved{
		TransactionID: entry.ID,
		UserID:        entry.UserID,
		Type:          entry.Type,
		Operator:      entry.Operator,
		PaymentMethod: entry.PaymentMethod,
		Amount:        entry.Amount,
		Status:        entry.Status,
		OccurredAt:    time.Now(),
	}
	if entry.ExternalRef != nil {
		event.ExternalRef = *entry.ExternalRef
	}

	if err := e.publisher.Publish(events.TopicTransactionResolved, event); err != nil {
		e.logger.Error("publish resolved event", "transaction_id", entry.ID, "error", err)
	}
}
