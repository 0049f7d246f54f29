package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrCustomerNotFound = errors.New("processor customer not found")

	ErrAmountInvalid       = errors.New("amount is out of allowed bounds")
	ErrMethodUnsupported   = errors.New("payment method not supported")
	ErrBalanceInsufficient = errors.New("insufficient balance")

	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateExternalRef = errors.New("external reference already recorded")

	ErrCardNotFound      = errors.New("payment method not found")
	ErrCardNotOwned      = errors.New("payment method belongs to another user")
	ErrCardAlreadyActive = errors.New("payment method already active")
	ErrCardRemoved       = errors.New("payment method removed")

	ErrActivationNotFound = errors.New("no activation payment recorded")
	ErrActivationPending  = errors.New("activation payment not succeeded yet")
	ErrCodeInvalid        = errors.New("activation code is invalid")
	ErrCodeExpired        = errors.New("activation code expired")

	// ErrPaymentFailed means a FAILED ledger entry was recorded for the attempt.
	// Retrying requires a new request.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrProcessorUnavailable means the processor call is not known to have
	// executed. Nothing terminal was recorded and the request is safe to retry.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)
