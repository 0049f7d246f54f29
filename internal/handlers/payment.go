package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/service/payment"
)

func handleRequestTopUp(payments paymentService, l logger.Logger) http.Handler {
	type request struct {
		Amount      decimal.Decimal `json:"amount" validate:"required"`
		Method      string          `json:"method" validate:"required,oneof=stripe paypal"`
		MethodID    string          `json:"method_id"`
		Description string          `json:"description" validate:"max=256"`
	}

	type response struct {
		Transaction  transactionView `json:"transaction"`
		ClientSecret string          `json:"client_secret,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := payments.RequestTopUp(r.Context(), userID, payment.TopUpRequest{
			Amount:      req.Amount,
			Method:      req.Method,
			MethodID:    req.MethodID,
			Description: req.Description,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				Transaction:  toTransactionView(receipt.Transaction),
				ClientSecret: receipt.ClientSecret,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrAmountInvalid):
			render.ServiceError(w, "Amount is out of allowed bounds", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrMethodUnsupported):
			render.ServiceError(w, "Unsupported payment method", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrCustomerNotFound):
			render.ServiceError(w, "No payment profile, attach a card first", http.StatusConflict)
		case errors.Is(err, apperrors.ErrPaymentFailed):
			render.PaymentError(w, "Payment declined", http.StatusPaymentRequired, false)
		case errors.Is(err, apperrors.ErrProcessorUnavailable):
			render.PaymentError(w, "Payment processor unavailable, try again later", http.StatusServiceUnavailable, true)
		default:
			l.Error("Failed to request top-up", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleConfirmTopUp(payments paymentService, l logger.Logger) http.Handler {
	type request struct {
		ExternalRef string `json:"external_ref" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		entry, err := payments.ConfirmTopUp(r.Context(), userID, req.ExternalRef)

		switch {
		case err == nil:
			render.JSON(w, toTransactionView(entry))
		case errors.Is(err, apperrors.ErrTransactionNotFound):
			render.ServiceError(w, "No payment with this reference", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrPaymentFailed):
			render.PaymentError(w, "Payment declined", http.StatusPaymentRequired, false)
		case errors.Is(err, apperrors.ErrProcessorUnavailable):
			render.PaymentError(w, "Payment processor unavailable, try again later", http.StatusServiceUnavailable, true)
		default:
			l.Error("Failed to confirm top-up", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleBalance(payments paymentService, l logger.Logger) http.Handler {
	type response struct {
		Deposit decimal.Decimal `json:"deposit"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		balance, err := payments.GetBalance(r.Context(), userID)

		switch err {
		case nil:
			render.JSON(w, response{Deposit: balance.Deposit})
		default:
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleHistory(payments paymentService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		opts, err := historyOpts(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		entries, err := payments.History(r.Context(), userID, opts)
		if err != nil {
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		views := make([]transactionView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, toTransactionView(entry))
		}
		render.JSON(w, views)
	})
}

// historyOpts reads pagination and filters from the query string
func historyOpts(r *http.Request) (repository.ListTransactionsOpts, error) {
	var opts repository.ListTransactionsOpts
	q := r.URL.Query()

	if statuses, ok := q["status"]; ok {
		opts.Statuses = statuses
	}
	if types, ok := q["type"]; ok {
		opts.Types = types
	}
	if methods, ok := q["method"]; ok {
		opts.Methods = methods
	}

	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.New("invalid 'from' timestamp, expected RFC3339")
		}
		opts.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.New("invalid 'to' timestamp, expected RFC3339")
		}
		opts.To = &to
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return opts, errors.New("invalid 'limit'")
		}
		opts.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return opts, errors.New("invalid 'offset'")
		}
		opts.Offset = offset
	}

	opts.OrderBy = q.Get("order_by")
	opts.Desc = q.Get("order") != "asc"

	return opts, nil
}
