package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
)

type BalanceRepo struct {
	db DBTX
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.UserID, &b.Deposit, &b.UpdatedAt)
	return b, err
}

func (r *BalanceRepo) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	const getBalance = `
	SELECT user_id, deposit, updated_at FROM balances
	WHERE user_id = $1
	`

	rows, _ := r.db.Query(ctx, getBalance, userID)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		return balance, apperrors.ErrUserNotFound
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

func (r *BalanceRepo) IncrementDeposit(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Balance, error) {
	const incrementDeposit = `
	INSERT INTO balances (user_id, deposit, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (user_id) DO UPDATE
	SET deposit = balances.deposit + EXCLUDED.deposit, updated_at = now()
	RETURNING user_id, deposit, updated_at
	`

	rows, _ := r.db.Query(ctx, incrementDeposit, userID, delta)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return balance, apperrors.ErrBalanceInsufficient
		}

		return balance, fmt.Errorf("db error: %w", err)
	}

	return balance, nil
}

func (r *BalanceRepo) DecrementIfEnough(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	const decrementIfEnough = `
	UPDATE balances
	SET deposit = deposit - $2, updated_at = now()
	WHERE user_id = $1 AND deposit >= $2
	RETURNING user_id, deposit, updated_at
	`

	rows, _ := r.db.Query(ctx, decrementIfEnough, userID, amount)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Missing balance counts as zero deposit
		return balance, apperrors.ErrBalanceInsufficient
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}
