package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
)

type CardRepo struct {
	db DBTX
}

const cardColumns = `id, user_id, method, brand, last4, fingerprint, status, is_default,
	created_at, activated_at, removed_at`

func rowToCard(row pgx.CollectableRow) (models.Card, error) {
	var c models.Card
	err := row.Scan(
		&c.ID, &c.UserID, &c.Method, &c.Brand, &c.Last4, &c.Fingerprint,
		&c.Status, &c.IsDefault, &c.CreatedAt, &c.ActivatedAt, &c.RemovedAt,
	)
	return c, err
}

func (r *CardRepo) AttachCard(ctx context.Context, p repository.AttachCardParams) (models.Card, error) {
	// Re-attaching a previously removed card revives the same row
	attachCard := `
	INSERT INTO payment_methods (id, user_id, method, brand, last4, fingerprint, is_default)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id, id) DO UPDATE
	SET brand = EXCLUDED.brand, last4 = EXCLUDED.last4, fingerprint = EXCLUDED.fingerprint,
	    is_default = EXCLUDED.is_default, removed_at = NULL
	RETURNING ` + cardColumns

	rows, _ := r.db.Query(ctx, attachCard, p.ID, p.UserID, p.Method, p.Brand, p.Last4, p.Fingerprint, p.IsDefault)
	card, err := pgx.CollectOneRow(rows, rowToCard)
	if err != nil {
		return card, fmt.Errorf("db error: %w", err)
	}

	return card, nil
}

func (r *CardRepo) GetCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error) {
	getCard := `SELECT ` + cardColumns + ` FROM payment_methods WHERE user_id = $1 AND id = $2`

	rows, _ := r.db.Query(ctx, getCard, userID, methodID)
	card, err := pgx.CollectOneRow(rows, rowToCard)

	switch {
	case err == nil:
		return card, nil
	case errors.Is(err, pgx.ErrNoRows):
		return card, apperrors.ErrCardNotFound
	default:
		return card, fmt.Errorf("db error: %w", err)
	}
}

func (r *CardRepo) ListCards(ctx context.Context, userID uuid.UUID, includeRemoved bool) ([]models.Card, error) {
	listCards := `SELECT ` + cardColumns + ` FROM payment_methods WHERE user_id = $1`
	if !includeRemoved {
		listCards += ` AND removed_at IS NULL`
	}
	listCards += ` ORDER BY created_at`

	rows, _ := r.db.Query(ctx, listCards, userID)
	cards, err := pgx.CollectRows(rows, rowToCard)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return cards, nil
}

func (r *CardRepo) SetDefaultCard(ctx context.Context, userID uuid.UUID, methodID string) (models.Card, error) {
	const dropDefault = `
	UPDATE payment_methods SET is_default = false
	WHERE user_id = $1 AND is_default AND id != $2
	`
	setDefault := `
	UPDATE payment_methods SET is_default = true
	WHERE user_id = $1 AND id = $2 AND removed_at IS NULL
	RETURNING ` + cardColumns

	if _, err := r.db.Exec(ctx, dropDefault, userID, methodID); err != nil {
		return models.Card{}, fmt.Errorf("db error: %w", err)
	}

	rows, _ := r.db.Query(ctx, setDefault, userID, methodID)
	card, err := pgx.CollectOneRow(rows, rowToCard)

	switch {
	case err == nil:
		return card, nil
	case errors.Is(err, pgx.ErrNoRows):
		return card, apperrors.ErrCardNotFound
	default:
		return card, fmt.Errorf("db error: %w", err)
	}
}

func (r *CardRepo) ActivateCard(ctx context.Context, userID uuid.UUID, methodID string, at time.Time) (models.Card, error) {
	activateCard := `
	UPDATE payment_methods SET status = $3, activated_at = $4
	WHERE user_id = $1 AND id = $2 AND removed_at IS NULL AND status = $5
	RETURNING ` + cardColumns

	rows, _ := r.db.Query(ctx, activateCard, userID, methodID, models.CardStatusActive, at, models.CardStatusPending)
	card, err := pgx.CollectOneRow(rows, rowToCard)

	if err == nil {
		return card, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return card, fmt.Errorf("db error: %w", err)
	}

	// Conditional update matched nothing: report why
	card, err = r.GetCard(ctx, userID, methodID)
	switch {
	case err != nil:
		return card, err
	case card.Removed():
		return card, apperrors.ErrCardRemoved
	case card.Status == models.CardStatusActive:
		return card, apperrors.ErrCardAlreadyActive
	default:
		return card, apperrors.ErrCardNotFound
	}
}

func (r *CardRepo) RemoveCard(ctx context.Context, userID uuid.UUID, methodID string, at time.Time) (models.Card, error) {
	removeCard := `
	UPDATE payment_methods SET removed_at = $3, is_default = false
	WHERE user_id = $1 AND id = $2 AND removed_at IS NULL
	RETURNING ` + cardColumns

	rows, _ := r.db.Query(ctx, removeCard, userID, methodID, at)
	card, err := pgx.CollectOneRow(rows, rowToCard)

	switch {
	case err == nil:
		return card, nil
	case errors.Is(err, pgx.ErrNoRows):
		return card, apperrors.ErrCardNotFound
	default:
		return card, fmt.Errorf("db error: %w", err)
	}
}
