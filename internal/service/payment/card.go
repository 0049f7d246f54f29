package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/service/otp"
	"github.com/liderhq/payhub/internal/service/processor"
)

// ActivationReceipt is the outcome of an activation fee charge. A non-empty
// ClientSecret means the client has to finish 3-D secure before the code can
// be verified.
type ActivationReceipt struct {
	Transaction  models.Transaction
	ClientSecret string
}

// stripe returns the gateway holding customers and payment methods
func (e *Engine) stripe() (processor.Gateway, error) {
	gw, ok := e.gateways[models.MethodStripe]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrMethodUnsupported, models.MethodStripe)
	}
	return gw, nil
}

// ensureCustomer returns the processor customer id, creating the customer on
// first use
func (e *Engine) ensureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	gw, err := e.stripe()
	if err != nil {
		return "", err
	}

	customer, err := e.storage.Customer().GetCustomer(ctx, userID)
	switch {
	case err == nil && customer.StripeCustomerID != nil:
		return *customer.StripeCustomerID, nil
	case err != nil && !errors.Is(err, apperrors.ErrCustomerNotFound):
		return "", err
	}

	customerID, err := gw.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", fmt.Errorf("create processor customer: %w", err)
	}

	if _, err := e.storage.Customer().SetStripeCustomer(ctx, userID, customerID); err != nil {
		return "", err
	}

	return customerID, nil
}

// AttachCard registers a processor payment method for the user. The card
// starts in pending status and needs activation before it may become default
// by choice; the very first card becomes default immediately.
func (e *Engine) AttachCard(ctx context.Context, userID uuid.UUID, email string, methodID string) (models.Card, error) {
	gw, err := e.stripe()
	if err != nil {
		return models.Card{}, err
	}

	customerID, err := e.ensureCustomer(ctx, userID, email)
	if err != nil {
		return models.Card{}, err
	}

	method, err := gw.AttachMethod(ctx, customerID, methodID)
	if err != nil {
		return models.Card{}, fmt.Errorf("attach method: %w", err)
	}

	existing, err := e.storage.Card().ListCards(ctx, userID, false)
	if err != nil {
		return models.Card{}, err
	}

	isDefault := len(existing) == 0
	if isDefault {
		if err := gw.SetDefaultMethod(ctx, customerID, method.ID); err != nil {
			e.logger.Warn("set processor default method",
				"user_id", userID, "method_id", method.ID, "error", err)
		}
	}

	return e.storage.Card().AttachCard(ctx, repository.AttachCardParams{
		ID:          method.ID,
		UserID:      userID,
		Method:      models.MethodStripe,
		Brand:       method.Brand,
		Last4:       method.Last4,
		Fingerprint: method.Fingerprint,
		IsDefault:   isDefault,
	})
}

func (e *Engine) ListCards(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	return e.storage.Card().ListCards(ctx, userID, false)
}

// RemoveCard detaches the method at the processor and soft-deletes the local
// record. When the removed card was the default, the oldest remaining active
// card is promoted.
func (e *Engine) RemoveCard(ctx context.Context, userID uuid.UUID, methodID string) error {
	card, err := e.storage.Card().GetCard(ctx, userID, methodID)
	if err != nil {
		return err
	}
	if card.Removed() {
		return apperrors.ErrCardRemoved
	}

	gw, err := e.stripe()
	if err != nil {
		return err
	}

	if err := gw.DetachMethod(ctx, methodID); err != nil {
		var perr *processor.Error
		if !errors.As(err, &perr) || perr.Code != processor.CodeInvalid {
			return fmt.Errorf("detach method: %w", err)
		}
		// Already detached on the processor side, proceed with the local removal
		e.logger.Warn("detach method rejected", "method_id", methodID, "error", err)
	}

	if _, err := e.storage.Card().RemoveCard(ctx, userID, methodID, time.Now()); err != nil {
		return err
	}

	if card.IsDefault {
		e.promoteNextDefault(ctx, userID)
	}

	return nil
}

// promoteNextDefault makes the oldest remaining active card the default.
// Best effort: a user without a default card is a valid state.
func (e *Engine) promoteNextDefault(ctx context.Context, userID uuid.UUID) {
	remaining, err := e.storage.Card().ListCards(ctx, userID, false)
	if err != nil {
		e.logger.Error("list cards for default promotion", "user_id", userID, "error", err)
		return
	}

	for _, card := range remaining {
		if card.Status != models.CardStatusActive {
			continue
		}
		if _, err := e.SetDefaultCard(ctx, userID, card.ID); err != nil {
			e.logger.Error("promote default card",
				"user_id", userID, "method_id", card.ID, "error", err)
		}
		return
	}
}

// SetDefaultCard makes the card the default charge method, locally and at the
// processor
func (e *Engine) SetDefaultCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error) {
	card, err := e.storage.Card().GetCard(ctx, userID, methodID)
	if err != nil {
		return models.Card{}, err
	}
	if card.Removed() {
		return models.Card{}, apperrors.ErrCardRemoved
	}

	customer, err := e.storage.Customer().GetCustomer(ctx, userID)
	if err != nil {
		return models.Card{}, err
	}
	if customer.StripeCustomerID == nil {
		return models.Card{}, apperrors.ErrCustomerNotFound
	}

	gw, err := e.stripe()
	if err != nil {
		return models.Card{}, err
	}
	if err := gw.SetDefaultMethod(ctx, *customer.StripeCustomerID, methodID); err != nil {
		return models.Card{}, fmt.Errorf("set default method: %w", err)
	}

	return e.storage.Card().SetDefaultCard(ctx, userID, methodID)
}

func activationKey(userID uuid.UUID, methodID string) string {
	return fmt.Sprintf("activation:%s:%s", userID, methodID)
}

// RequestCardActivation charges the flat verification fee to the card and
// issues a one-time code. Any earlier unfinished activation of the same card
// is closed first, so at most one unresolved fee entry exists per card.
func (e *Engine) RequestCardActivation(ctx context.Context, userID uuid.UUID, methodID string) (ActivationReceipt, error) {
	gw, err := e.stripe()
	if err != nil {
		return ActivationReceipt{}, err
	}

	card, err := e.storage.Card().GetCard(ctx, userID, methodID)
	if err != nil {
		return ActivationReceipt{}, err
	}
	if card.Removed() {
		return ActivationReceipt{}, apperrors.ErrCardRemoved
	}
	if card.Status == models.CardStatusActive {
		return ActivationReceipt{}, apperrors.ErrCardAlreadyActive
	}

	customer, err := e.storage.Customer().GetCustomer(ctx, userID)
	if err != nil {
		return ActivationReceipt{}, err
	}
	if customer.StripeCustomerID == nil {
		return ActivationReceipt{}, apperrors.ErrCustomerNotFound
	}

	method, err := gw.GetMethod(ctx, methodID)
	if err != nil {
		return ActivationReceipt{}, fmt.Errorf("get method: %w", err)
	}
	if method.CustomerID != *customer.StripeCustomerID {
		return ActivationReceipt{}, apperrors.ErrCardNotOwned
	}

	if err := e.closeStaleActivation(ctx, userID, methodID); err != nil {
		return ActivationReceipt{}, err
	}

	code, err := otp.GenerateCode(e.cfg.CodeLength)
	if err != nil {
		return ActivationReceipt{}, fmt.Errorf("generate code: %w", err)
	}
	if err := e.codes.Save(ctx, activationKey(userID, methodID), code, e.cfg.CodeTTL); err != nil {
		return ActivationReceipt{}, fmt.Errorf("save code: %w", err)
	}

	entry, err := e.storage.Transaction().CreateTransaction(ctx, repository.CreateTransactionParams{
		UserID:        userID,
		Amount:        e.cfg.ActivationFee,
		Operator:      models.OperatorNone,
		Type:          models.TxTypeActiveCardFee,
		PaymentMethod: models.MethodStripe,
		Status:        models.TxStatusPending,
		MethodID:      methodID,
		Description:   "card activation fee",
	})
	if err != nil {
		return ActivationReceipt{}, fmt.Errorf("create ledger entry: %w", err)
	}

	order, err := gw.CreateOrder(ctx, processor.CreateOrderParams{
		Amount:        e.cfg.ActivationFee,
		Currency:      e.cfg.Currency,
		UserID:        userID,
		TransactionID: entry.ID,
		CustomerID:    *customer.StripeCustomerID,
		MethodID:      methodID,
		Description:   "card activation fee",
	})
	if err != nil {
		receipt, err := e.orderCreateFailed(ctx, entry, models.MethodStripe, err)
		return ActivationReceipt{Transaction: receipt.Transaction}, err
	}
	e.metrics.ProcessorRequest(models.MethodStripe, "ok")

	entry, err = e.attachExternalRef(ctx, entry, order)
	if err != nil {
		return ActivationReceipt{}, err
	}

	receipt, err := e.settleTopUp(ctx, entry, order)
	return ActivationReceipt{
		Transaction:  receipt.Transaction,
		ClientSecret: receipt.ClientSecret,
	}, err
}

// closeStaleActivation resolves a leftover unresolved fee entry from an
// earlier activation attempt of the same card
func (e *Engine) closeStaleActivation(ctx context.Context, userID uuid.UUID, methodID string) error {
	unresolved := false
	resolved := true

	_, err := e.storage.Transaction().UpdateTransaction(ctx,
		repository.TransactionFilter{
			UserID:     &userID,
			MethodID:   methodID,
			Type:       models.TxTypeActiveCardFee,
			IsResolved: &unresolved,
		},
		repository.TransactionPatch{IsResolved: &resolved})

	if err != nil && !errors.Is(err, apperrors.ErrTransactionNotFound) {
		return fmt.Errorf("close stale activation: %w", err)
	}

	return nil
}

// VerifyCardActivation checks the one-time code against the activation fee
// entry and activates the card. The fee entry must have SUCCEEDED; a pending
// one is confirmed against the processor first.
func (e *Engine) VerifyCardActivation(ctx context.Context, userID uuid.UUID, methodID string, code string) (models.Card, error) {
	card, err := e.storage.Card().GetCard(ctx, userID, methodID)
	if err != nil {
		return models.Card{}, err
	}
	if card.Removed() {
		return models.Card{}, apperrors.ErrCardRemoved
	}
	if card.Status == models.CardStatusActive {
		return models.Card{}, apperrors.ErrCardAlreadyActive
	}

	unresolved := false
	entry, err := e.storage.Transaction().GetTransaction(ctx, repository.TransactionFilter{
		UserID:     &userID,
		MethodID:   methodID,
		Type:       models.TxTypeActiveCardFee,
		IsResolved: &unresolved,
	})
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		return models.Card{}, apperrors.ErrActivationNotFound
	}
	if err != nil {
		return models.Card{}, err
	}

	if entry.Status != models.TxStatusSucceeded {
		entry, err = e.confirmEntry(ctx, entry)
		if err != nil {
			return models.Card{}, err
		}
		if entry.Status != models.TxStatusSucceeded {
			return models.Card{}, apperrors.ErrActivationPending
		}
	}

	stored, err := e.codes.Get(ctx, activationKey(userID, methodID))
	if errors.Is(err, otp.ErrCodeNotFound) {
		return models.Card{}, apperrors.ErrCodeExpired
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("get code: %w", err)
	}
	if stored != code {
		return models.Card{}, apperrors.ErrCodeInvalid
	}

	if err := e.closeStaleActivation(ctx, userID, methodID); err != nil {
		return models.Card{}, err
	}

	activated, err := e.storage.Card().ActivateCard(ctx, userID, methodID, time.Now())
	if err != nil {
		return models.Card{}, err
	}

	if err := e.codes.Delete(ctx, activationKey(userID, methodID)); err != nil {
		e.logger.Warn("delete activation code", "user_id", userID, "error", err)
	}

	return activated, nil
}
