package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/handlers/userctx"
	"github.com/liderhq/payhub/internal/models"
)

// transactionView is the wire shape of a ledger entry
type transactionView struct {
	ID            uuid.UUID       `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Amount        decimal.Decimal `json:"amount"`
	Operator      string          `json:"operator"`
	Type          string          `json:"type"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	MethodID      string          `json:"method_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Metadata      models.Metadata `json:"metadata,omitempty"`
}

func toTransactionView(t models.Transaction) transactionView {
	view := transactionView{
		ID:            t.ID,
		CreatedAt:     t.CreatedAt,
		Amount:        t.Amount,
		Operator:      t.Operator,
		Type:          t.Type,
		PaymentMethod: t.PaymentMethod,
		Status:        t.Status,
		MethodID:      t.MethodID,
		Description:   t.Description,
		Metadata:      t.Metadata,
	}
	if t.ExternalRef != nil {
		view.ExternalRef = *t.ExternalRef
	}
	return view
}

type cardView struct {
	ID          string     `json:"id"`
	Method      string     `json:"method"`
	Brand       string     `json:"brand"`
	Last4       string     `json:"last4"`
	Status      string     `json:"status"`
	IsDefault   bool       `json:"is_default"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

func toCardView(c models.Card) cardView {
	return cardView{
		ID:          c.ID,
		Method:      c.Method,
		Brand:       c.Brand,
		Last4:       c.Last4,
		Status:      c.Status,
		IsDefault:   c.IsDefault,
		CreatedAt:   c.CreatedAt,
		ActivatedAt: c.ActivatedAt,
	}
}

// userFromRequest extracts the authenticated user id, answering 500 when the
// auth middleware did not run
func userFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
	}
	return userID, ok
}
