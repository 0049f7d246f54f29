package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the processor-neutral state of an order or payment intent
type Status string

const (
	// StatusPending: the processor accepted the order but it is not settled
	StatusPending Status = "pending"

	// StatusRequiresAction: out-of-band user action needed (3-D secure)
	StatusRequiresAction Status = "requires_action"

	// StatusApproved: the payer approved the order, capture still required
	StatusApproved Status = "approved"

	// StatusSucceeded: money moved
	StatusSucceeded Status = "succeeded"

	// StatusDeclined: the processor executed and refused the payment
	StatusDeclined Status = "declined"
)

// Error codes
const (
	// CodeDeclined: the call executed and the processor declined it
	CodeDeclined = "declined"

	// CodeRetryAfter: rate limited, retry after Error.RetryAfter
	CodeRetryAfter = "retry-after"

	// CodeUnavailable: timeout or transport failure, the call may not have
	// executed at all
	CodeUnavailable = "unavailable"

	// CodeInvalid: the processor rejected the request shape
	CodeInvalid = "invalid-request"
)

// Error is a typed processor failure. The engine inspects Code only and never
// assumes any processor-specific error shape.
type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter time.Duration, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// Executed reports whether the processor is known to have executed the call.
// False means nothing terminal may be recorded for the attempt.
func Executed(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code == CodeDeclined || perr.Code == CodeInvalid
	}
	return false
}

// Order is the processor view of a payment: an intent for stripe, an order
// for paypal
type Order struct {
	ExternalID string
	Status     Status

	// Secret the client needs to finish 3-D secure, stripe only
	ClientSecret string
}

// Method is a processor-held payment method handle
type Method struct {
	ID          string
	CustomerID  string
	Brand       string
	Last4       string
	Fingerprint string
	IsDefault   bool
}

type CreateOrderParams struct {
	Amount   decimal.Decimal
	Currency string

	UserID        uuid.UUID
	TransactionID uuid.UUID

	// Processor customer, required for stripe
	CustomerID string

	// Payment method to charge. Empty means the customer default.
	MethodID string

	Description string
}

// Gateway abstracts a payment processor. Implementations must bound every
// call with a timeout and surface failures as *Error.
type Gateway interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (Order, error)
	GetOrder(ctx context.Context, externalID string) (Order, error)

	// Capture settles an approved or action-completed order
	Capture(ctx context.Context, externalID string) (Order, error)

	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (customerID string, err error)

	AttachMethod(ctx context.Context, customerID string, methodID string) (Method, error)
	GetMethod(ctx context.Context, methodID string) (Method, error)
	ListMethods(ctx context.Context, customerID string) ([]Method, error)
	DetachMethod(ctx context.Context, methodID string) error
	SetDefaultMethod(ctx context.Context, customerID string, methodID string) error
}
