package handlers

import (
	"errors"
	"net/http"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/logger"
)

func handleAttachCard(cards cardService, l logger.Logger) http.Handler {
	type request struct {
		MethodID string `json:"method_id" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
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

		card, err := cards.AttachCard(r.Context(), userID, req.Email, req.MethodID)

		switch {
		case err == nil:
			render.JSONWithStatus(w, toCardView(card), http.StatusCreated)
		case errors.Is(err, apperrors.ErrProcessorUnavailable):
			render.PaymentError(w, "Payment processor unavailable, try again later", http.StatusServiceUnavailable, true)
		default:
			l.Error("Failed to attach card", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListCards(cards cardService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		list, err := cards.ListCards(r.Context(), userID)
		if err != nil {
			l.Error("Failed to list cards", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		views := make([]cardView, 0, len(list))
		for _, card := range list {
			views = append(views, toCardView(card))
		}
		render.JSON(w, views)
	})
}

func handleRemoveCard(cards cardService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		err := cards.RemoveCard(r.Context(), userID, r.PathValue("id"))

		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, apperrors.ErrCardNotFound):
			render.ServiceError(w, "Card not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCardRemoved):
			render.ServiceError(w, "Card already removed", http.StatusGone)
		default:
			l.Error("Failed to remove card", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleSetDefaultCard(cards cardService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		card, err := cards.SetDefaultCard(r.Context(), userID, r.PathValue("id"))

		switch {
		case err == nil:
			render.JSON(w, toCardView(card))
		case errors.Is(err, apperrors.ErrCardNotFound):
			render.ServiceError(w, "Card not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCardRemoved):
			render.ServiceError(w, "Card removed", http.StatusGone)
		default:
			l.Error("Failed to set default card", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRequestActivation(cards cardService, l logger.Logger) http.Handler {
	type response struct {
		Transaction  transactionView `json:"transaction"`
		ClientSecret string          `json:"client_secret,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}

		receipt, err := cards.RequestCardActivation(r.Context(), userID, r.PathValue("id"))

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				Transaction:  toTransactionView(receipt.Transaction),
				ClientSecret: receipt.ClientSecret,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrCardNotFound):
			render.ServiceError(w, "Card not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCardRemoved):
			render.ServiceError(w, "Card removed", http.StatusGone)
		case errors.Is(err, apperrors.ErrCardAlreadyActive):
			render.ServiceError(w, "Card already active", http.StatusConflict)
		case errors.Is(err, apperrors.ErrCardNotOwned):
			render.ServiceError(w, "Card belongs to another user", http.StatusForbidden)
		case errors.Is(err, apperrors.ErrPaymentFailed):
			render.PaymentError(w, "Activation fee declined", http.StatusPaymentRequired, false)
		case errors.Is(err, apperrors.ErrProcessorUnavailable):
			render.PaymentError(w, "Payment processor unavailable, try again later", http.StatusServiceUnavailable, true)
		default:
			l.Error("Failed to request card activation", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleVerifyActivation(cards cardService, l logger.Logger) http.Handler {
	type request struct {
		Code string `json:"code" validate:"required,min=4,max=12"`
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

		card, err := cards.VerifyCardActivation(r.Context(), userID, r.PathValue("id"), req.Code)

		switch {
		case err == nil:
			render.JSON(w, toCardView(card))
		case errors.Is(err, apperrors.ErrCardNotFound):
			render.ServiceError(w, "Card not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCardRemoved):
			render.ServiceError(w, "Card removed", http.StatusGone)
		case errors.Is(err, apperrors.ErrCardAlreadyActive):
			render.ServiceError(w, "Card already active", http.StatusConflict)
		case errors.Is(err, apperrors.ErrActivationNotFound):
			render.ServiceError(w, "No activation in progress", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrActivationPending):
			render.ServiceError(w, "Activation payment not settled yet", http.StatusConflict)
		case errors.Is(err, apperrors.ErrCodeInvalid):
			render.ServiceError(w, "Invalid activation code", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrCodeExpired):
			render.ServiceError(w, "Activation code expired, request activation again", http.StatusGone)
		case errors.Is(err, apperrors.ErrPaymentFailed):
			render.PaymentError(w, "Activation fee declined", http.StatusPaymentRequired, false)
		case errors.Is(err, apperrors.ErrProcessorUnavailable):
			render.PaymentError(w, "Payment processor unavailable, try again later", http.StatusServiceUnavailable, true)
		default:
			l.Error("Failed to verify card activation", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
