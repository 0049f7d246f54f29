package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/logger"
)

// handleServiceFee charges a user's deposit on behalf of a trusted internal
// service. Guarded by the internal token middleware, not user auth.
func handleServiceFee(payments paymentService, l logger.Logger) http.Handler {
	type request struct {
		UserID      uuid.UUID       `json:"user_id" validate:"required"`
		Amount      decimal.Decimal `json:"amount" validate:"required"`
		ContextID   string          `json:"context_id" validate:"required,max=128"`
		Description string          `json:"description" validate:"max=256"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		entry, err := payments.ChargeServiceFee(r.Context(), req.UserID, req.Amount, req.ContextID, req.Description)

		switch {
		case err == nil:
			render.JSONWithStatus(w, toTransactionView(entry), http.StatusCreated)
		case errors.Is(err, apperrors.ErrAmountInvalid):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		default:
			l.Error("Failed to charge service fee", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
