package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/handlers/middleware"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/service/payment"
	"github.com/liderhq/payhub/internal/service/stats"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// Secret validating access tokens issued by the auth gateway
	SecretKey string

	// Shared token for service-to-service endpoints
	InternalToken string
}

func NewRouter(
	cfg RouterConfig,
	payments paymentService,
	cards cardService,
	reports statsService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(cfg.SecretKey)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}
	internalMiddleware := middleware.InternalAuthMiddleware(cfg.InternalToken)
	withInternal := func(h http.Handler) http.Handler {
		return internalMiddleware(h)
	}

	api := http.NewServeMux()

	api.Handle("POST /payments/topup", withAuth(handleRequestTopUp(payments, logger)))
	api.Handle("POST /payments/topup/confirm", withAuth(handleConfirmTopUp(payments, logger)))
	api.Handle("GET /payments/balance", withAuth(handleBalance(payments, logger)))
	api.Handle("GET /payments/transactions", withAuth(handleHistory(payments, logger)))

	api.Handle("GET /payments/stats/series", withAuth(handleStatsSeries(reports, logger)))
	api.Handle("GET /payments/stats/totals", withAuth(handleStatsTotals(reports, logger)))

	api.Handle("POST /cards", withAuth(handleAttachCard(cards, logger)))
	api.Handle("GET /cards", withAuth(handleListCards(cards, logger)))
	api.Handle("DELETE /cards/{id}", withAuth(handleRemoveCard(cards, logger)))
	api.Handle("POST /cards/{id}/default", withAuth(handleSetDefaultCard(cards, logger)))
	api.Handle("POST /cards/{id}/activation", withAuth(handleRequestActivation(cards, logger)))
	api.Handle("POST /cards/{id}/activation/verify", withAuth(handleVerifyActivation(cards, logger)))

	api.Handle("POST /internal/service-fee", withInternal(handleServiceFee(payments, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type paymentService interface {
	// RequestTopUp records the ledger entry and charges the processor.
	// Declined charges return apperrors.ErrPaymentFailed, unknown outcomes
	// apperrors.ErrProcessorUnavailable.
	RequestTopUp(ctx context.Context, userID uuid.UUID, req payment.TopUpRequest) (payment.TopUpReceipt, error)

	// ConfirmTopUp settles a top-up by the processor order id, idempotent
	ConfirmTopUp(ctx context.Context, userID uuid.UUID, externalRef string) (models.Transaction, error)

	// ChargeServiceFee debits the deposit, apperrors.ErrBalanceInsufficient
	// when the deposit does not cover the amount
	ChargeServiceFee(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, contextID string, description string) (models.Transaction, error)

	GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error)
	History(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

type cardService interface {
	AttachCard(ctx context.Context, userID uuid.UUID, email string, methodID string) (models.Card, error)
	ListCards(ctx context.Context, userID uuid.UUID) ([]models.Card, error)
	RemoveCard(ctx context.Context, userID uuid.UUID, methodID string) error
	SetDefaultCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error)

	RequestCardActivation(ctx context.Context, userID uuid.UUID, methodID string) (payment.ActivationReceipt, error)
	VerifyCardActivation(ctx context.Context, userID uuid.UUID, methodID string, code string) (models.Card, error)
}

type statsService interface {
	Series(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]stats.Point, error)
	Totals(ctx context.Context, userID uuid.UUID) (stats.Totals, error)
}
