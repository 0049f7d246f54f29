package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/logger"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// Currencies charged in whole units: stripe expects no cents for them
var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
}

// StripeConfig is the per-region credential set
type StripeConfig struct {
	APIKey  string
	BaseURL string
}

// StripeGateway talks to the stripe REST API. Credentials are selected from
// an explicit region→config map by the routing key given at construction.
type StripeGateway struct {
	apiKey  string
	baseURL string

	client  *http.Client
	timeout time.Duration
	logger  logger.Logger
}

func NewStripeGateway(configs map[string]StripeConfig, region string, l logger.Logger) (*StripeGateway, error) {
	cfg, ok := configs[region]
	if !ok {
		return nil, fmt.Errorf("no stripe credentials for region %q", region)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultStripeBaseURL
	}

	return &StripeGateway{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: 10 * time.Second,
		logger:  l,
	}, nil
}

type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

type stripeMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Card     struct {
		Brand       string `json:"brand"`
		Last4       string `json:"last4"`
		Fingerprint string `json:"fingerprint"`
	} `json:"card"`
}

type stripeCustomer struct {
	ID              string `json:"id"`
	InvoiceSettings struct {
		DefaultPaymentMethod string `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

func (g *StripeGateway) CreateOrder(ctx context.Context, p CreateOrderParams) (Order, error) {
	amount, err := toSmallestUnit(p.Amount, p.Currency)
	if err != nil {
		return Order{}, NewError(CodeInvalid, 0, err)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	form.Set("confirm", "true")
	form.Set("customer", p.CustomerID)
	form.Set("description", p.Description)
	form.Set("metadata[user_id]", p.UserID.String())
	form.Set("metadata[transaction_id]", p.TransactionID.String())
	if p.MethodID != "" {
		form.Set("payment_method", p.MethodID)
	}

	var intent stripeIntent
	if err := g.call(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return Order{}, err
	}

	return intentToOrder(intent), nil
}

func (g *StripeGateway) GetOrder(ctx context.Context, externalID string) (Order, error) {
	var intent stripeIntent
	if err := g.call(ctx, http.MethodGet, "/v1/payment_intents/"+externalID, nil, &intent); err != nil {
		return Order{}, err
	}

	return intentToOrder(intent), nil
}

func (g *StripeGateway) Capture(ctx context.Context, externalID string) (Order, error) {
	var intent stripeIntent
	if err := g.call(ctx, http.MethodPost, "/v1/payment_intents/"+externalID+"/capture", nil, &intent); err != nil {
		return Order{}, err
	}

	return intentToOrder(intent), nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[user_id]", userID.String())

	var customer stripeCustomer
	if err := g.call(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return "", err
	}

	return customer.ID, nil
}

func (g *StripeGateway) AttachMethod(ctx context.Context, customerID string, methodID string) (Method, error) {
	form := url.Values{}
	form.Set("customer", customerID)

	var m stripeMethod
	if err := g.call(ctx, http.MethodPost, "/v1/payment_methods/"+methodID+"/attach", form, &m); err != nil {
		return Method{}, err
	}

	return methodToMethod(m, ""), nil
}

func (g *StripeGateway) GetMethod(ctx context.Context, methodID string) (Method, error) {
	var m stripeMethod
	if err := g.call(ctx, http.MethodGet, "/v1/payment_methods/"+methodID, nil, &m); err != nil {
		return Method{}, err
	}

	return methodToMethod(m, ""), nil
}

func (g *StripeGateway) ListMethods(ctx context.Context, customerID string) ([]Method, error) {
	var customer stripeCustomer
	if err := g.call(ctx, http.MethodGet, "/v1/customers/"+customerID, nil, &customer); err != nil {
		return nil, err
	}

	var list struct {
		Data []stripeMethod `json:"data"`
	}
	path := "/v1/payment_methods?type=card&customer=" + url.QueryEscape(customerID)
	if err := g.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	methods := make([]Method, 0, len(list.Data))
	for _, m := range list.Data {
		methods = append(methods, methodToMethod(m, customer.InvoiceSettings.DefaultPaymentMethod))
	}

	return methods, nil
}

func (g *StripeGateway) DetachMethod(ctx context.Context, methodID string) error {
	var m stripeMethod
	return g.call(ctx, http.MethodPost, "/v1/payment_methods/"+methodID+"/detach", nil, &m)
}

func (g *StripeGateway) SetDefaultMethod(ctx context.Context, customerID string, methodID string) error {
	form := url.Values{}
	form.Set("invoice_settings[default_payment_method]", methodID)

	var customer stripeCustomer
	return g.call(ctx, http.MethodPost, "/v1/customers/"+customerID, form, &customer)
}

// call sends a form-encoded request and decodes the json response into out.
// Every call is bounded by the gateway timeout.
func (g *StripeGateway) call(ctx context.Context, method string, path string, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return NewError(CodeInvalid, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return NewError(CodeUnavailable, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(CodeUnavailable, 0, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	var failure struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&failure)
	apiErr := fmt.Errorf("stripe %s: %s", failure.Error.Type, failure.Error.Message)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || failure.Error.Type == "card_error":
		return NewError(CodeDeclined, 0, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(CodeRetryAfter, retryAfter(resp), apiErr)
	case resp.StatusCode >= 500:
		g.logger.Warn("Stripe API failure", "status_code", resp.StatusCode, "path", path)
		return NewError(CodeUnavailable, 0, apiErr)
	default:
		return NewError(CodeInvalid, 0, apiErr)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func intentToOrder(intent stripeIntent) Order {
	order := Order{
		ExternalID:   intent.ID,
		ClientSecret: intent.ClientSecret,
	}

	// https://stripe.com/docs/payments/payment-intents/verifying-status
	switch intent.Status {
	case "succeeded":
		order.Status = StatusSucceeded
	case "requires_action", "requires_confirmation":
		order.Status = StatusRequiresAction
	case "requires_capture":
		order.Status = StatusApproved
	case "requires_payment_method", "canceled":
		order.Status = StatusDeclined
	default:
		order.Status = StatusPending
	}

	return order
}

func methodToMethod(m stripeMethod, defaultID string) Method {
	return Method{
		ID:          m.ID,
		CustomerID:  m.Customer,
		Brand:       m.Card.Brand,
		Last4:       m.Card.Last4,
		Fingerprint: m.Card.Fingerprint,
		IsDefault:   defaultID != "" && m.ID == defaultID,
	}
}

func toSmallestUnit(amount decimal.Decimal, currency string) (int64, error) {
	currency = strings.ToLower(currency)

	scaled := amount
	if !zeroDecimalCurrencies[currency] {
		scaled = amount.Shift(2)
	}
	if !scaled.IsInteger() {
		return 0, errors.New("amount has sub-unit precision for currency " + currency)
	}

	return scaled.IntPart(), nil
}
