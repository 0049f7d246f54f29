package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liderhq/payhub/internal/logger"
)

// PaypalConfig holds the REST API credentials.
// BaseURL switches between sandbox and live.
type PaypalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// PaypalGateway talks to the paypal checkout REST API. Payment method
// management lives on the paypal side entirely, so the method operations are
// not supported here.
type PaypalGateway struct {
	cfg     PaypalConfig
	client  *http.Client
	timeout time.Duration
	logger  logger.Logger

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
}

func NewPaypalGateway(cfg PaypalConfig, l logger.Logger) *PaypalGateway {
	return &PaypalGateway{
		cfg:     cfg,
		client:  &http.Client{},
		timeout: 10 * time.Second,
		logger:  l,
	}
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *PaypalGateway) CreateOrder(ctx context.Context, p CreateOrderParams) (Order, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": p.TransactionID.String(),
			"custom_id":    p.UserID.String(),
			"description":  p.Description,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(p.Currency),
				"value":         p.Amount.StringFixed(2),
			},
		}},
	}

	var order paypalOrder
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return Order{}, err
	}

	return orderToOrder(order), nil
}

func (g *PaypalGateway) GetOrder(ctx context.Context, externalID string) (Order, error) {
	var order paypalOrder
	if err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+externalID, nil, &order); err != nil {
		return Order{}, err
	}

	return orderToOrder(order), nil
}

func (g *PaypalGateway) Capture(ctx context.Context, externalID string) (Order, error) {
	var order paypalOrder
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders/"+externalID+"/capture", nil, &order); err != nil {
		return Order{}, err
	}

	return orderToOrder(order), nil
}

func (g *PaypalGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	return "", NewError(CodeInvalid, 0, fmt.Errorf("paypal holds no customer records"))
}

func (g *PaypalGateway) AttachMethod(ctx context.Context, customerID string, methodID string) (Method, error) {
	return Method{}, NewError(CodeInvalid, 0, fmt.Errorf("paypal does not manage payment methods"))
}

func (g *PaypalGateway) GetMethod(ctx context.Context, methodID string) (Method, error) {
	return Method{}, NewError(CodeInvalid, 0, fmt.Errorf("paypal does not manage payment methods"))
}

func (g *PaypalGateway) ListMethods(ctx context.Context, customerID string) ([]Method, error) {
	return nil, NewError(CodeInvalid, 0, fmt.Errorf("paypal does not manage payment methods"))
}

func (g *PaypalGateway) DetachMethod(ctx context.Context, methodID string) error {
	return NewError(CodeInvalid, 0, fmt.Errorf("paypal does not manage payment methods"))
}

func (g *PaypalGateway) SetDefaultMethod(ctx context.Context, customerID string, methodID string) error {
	return NewError(CodeInvalid, 0, fmt.Errorf("paypal does not manage payment methods"))
}

// token returns a cached oauth access token, refreshing it when expired
func (g *PaypalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpires) {
		return g.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewError(CodeInvalid, 0, fmt.Errorf("failed to create token request: %w", err))
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", NewError(CodeUnavailable, 0, fmt.Errorf("failed to fetch token: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", NewError(CodeUnavailable, 0, fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", NewError(CodeUnavailable, 0, fmt.Errorf("failed to decode token: %w", err))
	}

	g.accessToken = token.AccessToken
	// Refresh one minute early
	g.tokenExpires = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)

	return g.accessToken, nil
}

func (g *PaypalGateway) call(ctx context.Context, method string, path string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return NewError(CodeInvalid, 0, fmt.Errorf("failed to encode payload: %w", err))
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return NewError(CodeInvalid, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(CodeUnavailable, 0, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		g.logger.Warn("Paypal API throttled")
		return NewError(CodeRetryAfter, retryAfter(resp), fmt.Errorf("paypal rate limited"))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Capture refused: payer issue, declined instrument and the like
		return NewError(CodeDeclined, 0, fmt.Errorf("paypal refused: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		g.logger.Warn("Paypal API failure", "status_code", resp.StatusCode, "path", path)
		return NewError(CodeUnavailable, 0, fmt.Errorf("paypal status %d", resp.StatusCode))
	default:
		return NewError(CodeInvalid, 0, fmt.Errorf("paypal status %d", resp.StatusCode))
	}
}

func orderToOrder(order paypalOrder) Order {
	o := Order{ExternalID: order.ID}

	switch order.Status {
	case "COMPLETED":
		o.Status = StatusSucceeded
	case "APPROVED":
		o.Status = StatusApproved
	case "VOIDED", "DECLINED":
		o.Status = StatusDeclined
	default:
		// CREATED, SAVED, PAYER_ACTION_REQUIRED
		o.Status = StatusPending
	}

	return o
}
