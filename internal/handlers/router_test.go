package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/handlers/middleware"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/service/payment"
	"github.com/liderhq/payhub/internal/service/stats"
)

const (
	testSecret        = "router-test-secret"
	testInternalToken = "router-internal-token"
)

type paymentStub struct {
	requestTopUp     func(userID uuid.UUID, req payment.TopUpRequest) (payment.TopUpReceipt, error)
	confirmTopUp     func(userID uuid.UUID, externalRef string) (models.Transaction, error)
	chargeServiceFee func(userID uuid.UUID, amount decimal.Decimal, contextID string, description string) (models.Transaction, error)
	getBalance       func(userID uuid.UUID) (models.Balance, error)
	history          func(userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

func (s paymentStub) RequestTopUp(_ context.Context, userID uuid.UUID, req payment.TopUpRequest) (payment.TopUpReceipt, error) {
	return s.requestTopUp(userID, req)
}

func (s paymentStub) ConfirmTopUp(_ context.Context, userID uuid.UUID, externalRef string) (models.Transaction, error) {
	return s.confirmTopUp(userID, externalRef)
}

func (s paymentStub) ChargeServiceFee(_ context.Context, userID uuid.UUID, amount decimal.Decimal, contextID string, description string) (models.Transaction, error) {
	return s.chargeServiceFee(userID, amount, contextID, description)
}

func (s paymentStub) GetBalance(_ context.Context, userID uuid.UUID) (models.Balance, error) {
	return s.getBalance(userID)
}

func (s paymentStub) History(_ context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	return s.history(userID, opts)
}

type cardStub struct {
	attach     func(userID uuid.UUID, email string, methodID string) (models.Card, error)
	list       func(userID uuid.UUID) ([]models.Card, error)
	remove     func(userID uuid.UUID, methodID string) error
	setDefault func(userID uuid.UUID, methodID string) (models.Card, error)
	activate   func(userID uuid.UUID, methodID string) (payment.ActivationReceipt, error)
	verify     func(userID uuid.UUID, methodID string, code string) (models.Card, error)
}

func (s cardStub) AttachCard(_ context.Context, userID uuid.UUID, email string, methodID string) (models.Card, error) {
	return s.attach(userID, email, methodID)
}

func (s cardStub) ListCards(_ context.Context, userID uuid.UUID) ([]models.Card, error) {
	return s.list(userID)
}

func (s cardStub) RemoveCard(_ context.Context, userID uuid.UUID, methodID string) error {
	return s.remove(userID, methodID)
}

func (s cardStub) SetDefaultCard(_ context.Context, userID uuid.UUID, methodID string) (models.Card, error) {
	return s.setDefault(userID, methodID)
}

func (s cardStub) RequestCardActivation(_ context.Context, userID uuid.UUID, methodID string) (payment.ActivationReceipt, error) {
	return s.activate(userID, methodID)
}

func (s cardStub) VerifyCardActivation(_ context.Context, userID uuid.UUID, methodID string, code string) (models.Card, error) {
	return s.verify(userID, methodID, code)
}

type statsStub struct {
	series func(userID uuid.UUID, from, to time.Time) ([]stats.Point, error)
	totals func(userID uuid.UUID) (stats.Totals, error)
}

func (s statsStub) Series(_ context.Context, userID uuid.UUID, from, to time.Time) ([]stats.Point, error) {
	return s.series(userID, from, to)
}

func (s statsStub) Totals(_ context.Context, userID uuid.UUID) (stats.Totals, error) {
	return s.totals(userID)
}

func signToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
	})

	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestRouter(payments paymentService, cards cardService, reports statsService) http.Handler {
	cfg := RouterConfig{SecretKey: testSecret, InternalToken: testInternalToken}
	return NewRouter(cfg, payments, cards, reports, logger.NewNoop())
}

type testRequest struct {
	method string
	path   string
	body   string
	token  string

	internalToken string
}

func do(t *testing.T, router http.Handler, tr testRequest) (*http.Response, string) {
	t.Helper()

	srv := httptest.NewServer(router)
	defer srv.Close()

	var body io.Reader
	if tr.body != "" {
		body = strings.NewReader(tr.body)
	}

	req, err := http.NewRequest(tr.method, srv.URL+tr.path, body)
	require.NoError(t, err)
	if tr.token != "" {
		req.Header.Set("Authorization", "Bearer "+tr.token)
	}
	if tr.internalToken != "" {
		req.Header.Set(middleware.InternalTokenHeader, tr.internalToken)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return resp, string(data)
}

func succeededTopUp(userID uuid.UUID, amount int64) models.Transaction {
	ref := "pi_test_1"
	return models.Transaction{
		ID:            uuid.New(),
		CreatedAt:     time.Now(),
		UserID:        userID,
		Amount:        decimal.NewFromInt(amount),
		Operator:      models.OperatorCredit,
		Type:          models.TxTypeTopUp,
		PaymentMethod: models.MethodStripe,
		Status:        models.TxStatusSucceeded,
		ExternalRef:   &ref,
		IsResolved:    true,
	}
}

func TestRouterAuth(t *testing.T) {
	router := newTestRouter(paymentStub{}, cardStub{}, statsStub{})

	t.Run("protected endpoint without token", func(t *testing.T) {
		resp, _ := do(t, router, testRequest{method: http.MethodGet, path: "/api/payments/balance"})

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("internal endpoint without internal token", func(t *testing.T) {
		resp, _ := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/internal/service-fee",
			body:   `{}`,
		})

		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestRouterTopUp(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("success", func(t *testing.T) {
		payments := paymentStub{
			requestTopUp: func(gotUser uuid.UUID, req payment.TopUpRequest) (payment.TopUpReceipt, error) {
				require.Equal(t, userID, gotUser)
				require.True(t, req.Amount.Equal(decimal.NewFromInt(100)))
				require.Equal(t, models.MethodStripe, req.Method)
				return payment.TopUpReceipt{Transaction: succeededTopUp(gotUser, 100)}, nil
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup",
			body:   `{"amount": 100, "method": "stripe"}`,
			token:  token,
		})

		require.Equal(t, http.StatusCreated, resp.StatusCode, "resp: %s", body)
		require.Contains(t, body, `"SUCCEEDED"`)
		require.Contains(t, body, `"pi_test_1"`)
	})

	t.Run("unknown method rejected by validation", func(t *testing.T) {
		router := newTestRouter(paymentStub{}, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup",
			body:   `{"amount": 100, "method": "wire-pigeon"}`,
			token:  token,
		})

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, body, "validation_failed")
	})

	t.Run("declined", func(t *testing.T) {
		payments := paymentStub{
			requestTopUp: func(uuid.UUID, payment.TopUpRequest) (payment.TopUpReceipt, error) {
				return payment.TopUpReceipt{}, apperrors.ErrPaymentFailed
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup",
			body:   `{"amount": 100, "method": "paypal"}`,
			token:  token,
		})

		require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		require.Contains(t, body, `"retryable":false`)
	})

	t.Run("processor unavailable", func(t *testing.T) {
		payments := paymentStub{
			requestTopUp: func(uuid.UUID, payment.TopUpRequest) (payment.TopUpReceipt, error) {
				return payment.TopUpReceipt{}, apperrors.ErrProcessorUnavailable
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup",
			body:   `{"amount": 100, "method": "paypal"}`,
			token:  token,
		})

		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Contains(t, body, `"retryable":true`)
	})
}

func TestRouterConfirmTopUp(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("unknown reference", func(t *testing.T) {
		payments := paymentStub{
			confirmTopUp: func(uuid.UUID, string) (models.Transaction, error) {
				return models.Transaction{}, apperrors.ErrTransactionNotFound
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, _ := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup/confirm",
			body:   `{"external_ref": "pi_unknown"}`,
			token:  token,
		})

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("settled", func(t *testing.T) {
		payments := paymentStub{
			confirmTopUp: func(gotUser uuid.UUID, ref string) (models.Transaction, error) {
				require.Equal(t, "pi_test_1", ref)
				return succeededTopUp(gotUser, 50), nil
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/payments/topup/confirm",
			body:   `{"external_ref": "pi_test_1"}`,
			token:  token,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, `"SUCCEEDED"`)
	})
}

func TestRouterBalanceAndHistory(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("balance", func(t *testing.T) {
		payments := paymentStub{
			getBalance: func(gotUser uuid.UUID) (models.Balance, error) {
				return models.Balance{UserID: gotUser, Deposit: decimal.NewFromInt(70)}, nil
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/balance",
			token:  token,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"deposit": "70"}`, body)
	})

	t.Run("history passes filters", func(t *testing.T) {
		payments := paymentStub{
			history: func(gotUser uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
				require.Equal(t, []string{models.TxStatusSucceeded}, opts.Statuses)
				require.Equal(t, 5, opts.Limit)
				require.True(t, opts.Desc)
				return []models.Transaction{succeededTopUp(gotUser, 10)}, nil
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/transactions?status=SUCCEEDED&limit=5",
			token:  token,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, `"user-top-up"`)
	})

	t.Run("history rejects bad limit", func(t *testing.T) {
		router := newTestRouter(paymentStub{}, cardStub{}, statsStub{})

		resp, _ := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/transactions?limit=nope",
			token:  token,
		})

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRouterCards(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("remove not found", func(t *testing.T) {
		cards := cardStub{
			remove: func(uuid.UUID, string) error { return apperrors.ErrCardNotFound },
		}
		router := newTestRouter(paymentStub{}, cards, statsStub{})

		resp, _ := do(t, router, testRequest{
			method: http.MethodDelete,
			path:   "/api/cards/pm_missing",
			token:  token,
		})

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("verify with wrong code", func(t *testing.T) {
		cards := cardStub{
			verify: func(_ uuid.UUID, methodID string, code string) (models.Card, error) {
				require.Equal(t, "pm_1", methodID)
				require.Equal(t, "ABC123", code)
				return models.Card{}, apperrors.ErrCodeInvalid
			},
		}
		router := newTestRouter(paymentStub{}, cards, statsStub{})

		resp, _ := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/cards/pm_1/activation/verify",
			body:   `{"code": "ABC123"}`,
			token:  token,
		})

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("activation fee charged", func(t *testing.T) {
		cards := cardStub{
			activate: func(gotUser uuid.UUID, methodID string) (payment.ActivationReceipt, error) {
				entry := succeededTopUp(gotUser, 1)
				entry.Type = models.TxTypeActiveCardFee
				entry.MethodID = methodID
				return payment.ActivationReceipt{Transaction: entry}, nil
			},
		}
		router := newTestRouter(paymentStub{}, cards, statsStub{})

		resp, body := do(t, router, testRequest{
			method: http.MethodPost,
			path:   "/api/cards/pm_1/activation",
			token:  token,
		})

		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Contains(t, body, `"active-card-fee"`)
	})
}

func TestRouterInternalServiceFee(t *testing.T) {
	userID := uuid.New()

	t.Run("charge ok", func(t *testing.T) {
		payments := paymentStub{
			chargeServiceFee: func(gotUser uuid.UUID, amount decimal.Decimal, contextID string, _ string) (models.Transaction, error) {
				require.Equal(t, userID, gotUser)
				require.True(t, amount.Equal(decimal.NewFromInt(30)))
				require.Equal(t, "order-77", contextID)

				entry := succeededTopUp(gotUser, 30)
				entry.Type = models.TxTypeServiceCharge
				entry.Operator = models.OperatorDebit
				return entry, nil
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, body := do(t, router, testRequest{
			method:        http.MethodPost,
			path:          "/api/internal/service-fee",
			body:          `{"user_id": "` + userID.String() + `", "amount": 30, "context_id": "order-77"}`,
			internalToken: testInternalToken,
		})

		require.Equal(t, http.StatusCreated, resp.StatusCode, "resp: %s", body)
		require.Contains(t, body, `"service-charge"`)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		payments := paymentStub{
			chargeServiceFee: func(uuid.UUID, decimal.Decimal, string, string) (models.Transaction, error) {
				return models.Transaction{}, apperrors.ErrBalanceInsufficient
			},
		}
		router := newTestRouter(payments, cardStub{}, statsStub{})

		resp, _ := do(t, router, testRequest{
			method:        http.MethodPost,
			path:          "/api/internal/service-fee",
			body:          `{"user_id": "` + userID.String() + `", "amount": 30, "context_id": "order-78"}`,
			internalToken: testInternalToken,
		})

		require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	})
}

func TestRouterStats(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, userID)

	t.Run("series", func(t *testing.T) {
		reports := statsStub{
			series: func(gotUser uuid.UUID, from, to time.Time) ([]stats.Point, error) {
				return []stats.Point{
					{Date: "2025-03-01", Direction: stats.DirectionIn, Amount: decimal.NewFromInt(100)},
					{Date: "2025-03-01", Direction: stats.DirectionOut, Amount: decimal.Zero},
				}, nil
			},
		}
		router := newTestRouter(paymentStub{}, cardStub{}, reports)

		resp, body := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/stats/series",
			token:  token,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, `"2025-03-01"`)
	})

	t.Run("series rejects inverted range", func(t *testing.T) {
		router := newTestRouter(paymentStub{}, cardStub{}, statsStub{})

		resp, _ := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/stats/series?from=2025-03-02T00:00:00Z&to=2025-03-01T00:00:00Z",
			token:  token,
		})

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("totals", func(t *testing.T) {
		reports := statsStub{
			totals: func(uuid.UUID) (stats.Totals, error) {
				return stats.Totals{In: decimal.NewFromInt(150), Out: decimal.NewFromInt(30)}, nil
			},
		}
		router := newTestRouter(paymentStub{}, cardStub{}, reports)

		resp, body := do(t, router, testRequest{
			method: http.MethodGet,
			path:   "/api/payments/stats/totals",
			token:  token,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"in": "150", "out": "30"}`, body)
	})
}
