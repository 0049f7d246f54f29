package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
)

type CustomerRepo struct {
	db DBTX
}

func rowToCustomer(row pgx.CollectableRow) (models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.UserID, &c.CreatedAt, &c.StripeCustomerID)
	return c, err
}

func (r *CustomerRepo) GetCustomer(ctx context.Context, userID uuid.UUID) (models.Customer, error) {
	const getCustomer = `
	SELECT user_id, created_at, stripe_customer_id FROM customers
	WHERE user_id = $1
	`

	rows, _ := r.db.Query(ctx, getCustomer, userID)
	customer, err := pgx.CollectOneRow(rows, rowToCustomer)

	switch {
	case err == nil:
		return customer, nil
	case errors.Is(err, pgx.ErrNoRows):
		return customer, apperrors.ErrCustomerNotFound
	default:
		return customer, fmt.Errorf("db error: %w", err)
	}
}

func (r *CustomerRepo) SetStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) (models.Customer, error) {
	const setStripeCustomer = `
	INSERT INTO customers (user_id, stripe_customer_id)
	VALUES ($1, $2)
	ON CONFLICT (user_id) DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id
	RETURNING user_id, created_at, stripe_customer_id
	`

	rows, _ := r.db.Query(ctx, setStripeCustomer, userID, stripeCustomerID)
	customer, err := pgx.CollectOneRow(rows, rowToCustomer)
	if err != nil {
		return customer, fmt.Errorf("db error: %w", err)
	}

	return customer, nil
}
