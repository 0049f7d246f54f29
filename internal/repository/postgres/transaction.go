package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
)

type TransactionRepo struct {
	db DBTX
}

const txColumns = `id, created_at, updated_at, user_id, amount, operator, type, payment_method,
	status, external_ref, method_id, description, is_resolved, applied_at, metadata`

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	var metadata []byte

	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.UserID, &t.Amount, &t.Operator, &t.Type,
		&t.PaymentMethod, &t.Status, &t.ExternalRef, &t.MethodID, &t.Description,
		&t.IsResolved, &t.AppliedAt, &metadata,
	)
	if err != nil {
		return t, err
	}

	err = json.Unmarshal(metadata, &t.Metadata)
	return t, err
}

func (r *TransactionRepo) CreateTransaction(ctx context.Context, p repository.CreateTransactionParams) (models.Transaction, error) {
	createTransaction := `
	INSERT INTO transactions (id, created_at, updated_at, user_id, amount, operator, type,
		payment_method, status, external_ref, method_id, description, is_resolved, applied_at, metadata)
	VALUES ($1, $2, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + txColumns

	if p.Metadata == nil {
		p.Metadata = models.Metadata{}
	}
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("metadata marshal error: %w", err)
	}

	now := time.Now()
	rows, _ := r.db.Query(ctx, createTransaction,
		uuid.New(), now, p.UserID, p.Amount, p.Operator, p.Type, p.PaymentMethod,
		p.Status, p.ExternalRef, p.MethodID, p.Description, p.IsResolved, p.AppliedAt, metadata,
	)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return t, apperrors.ErrDuplicateExternalRef
		}

		return t, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

// where renders filter into "WHERE ..." with placeholders continuing from args
func where(f repository.TransactionFilter, args []any) (string, []any) {
	var conds []string

	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}

	if f.ID != nil {
		add("id", *f.ID)
	}
	if f.UserID != nil {
		add("user_id", *f.UserID)
	}
	if f.ExternalRef != nil {
		add("external_ref", *f.ExternalRef)
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.PaymentMethod != "" {
		add("payment_method", f.PaymentMethod)
	}
	if f.MethodID != "" {
		add("method_id", f.MethodID)
	}
	if f.IsResolved != nil {
		add("is_resolved", *f.IsResolved)
	}

	if len(conds) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *TransactionRepo) GetTransaction(ctx context.Context, f repository.TransactionFilter) (models.Transaction, error) {
	cond, args := where(f, nil)
	query := `SELECT ` + txColumns + ` FROM transactions` + cond + ` LIMIT 1`

	rows, _ := r.db.Query(ctx, query, args...)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) UpdateTransaction(ctx context.Context, f repository.TransactionFilter, p repository.TransactionPatch) (models.Transaction, error) {
	args := []any{time.Now()}
	sets := []string{"updated_at = $1"}

	set := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if p.Status != nil {
		set("status = $%d", *p.Status)
	}
	if p.ExternalRef != nil {
		set("external_ref = $%d", *p.ExternalRef)
	}
	if p.IsResolved != nil {
		set("is_resolved = $%d", *p.IsResolved)
	}
	if p.AppliedAt != nil {
		set("applied_at = $%d", *p.AppliedAt)
	}
	if len(p.MergeMetadata) > 0 {
		merged, err := json.Marshal(p.MergeMetadata)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("metadata marshal error: %w", err)
		}
		set("metadata = metadata || $%d::jsonb", merged)
	}

	cond, args := where(f, args)
	query := `UPDATE transactions SET ` + strings.Join(sets, ", ") + cond + ` RETURNING ` + txColumns

	rows, _ := r.db.Query(ctx, query, args...)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Filter matched nothing: the conditional update lost the race or the
		// entry is absent. Callers rely on this being a silent miss.
		return t, apperrors.ErrTransactionNotFound
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return t, apperrors.ErrDuplicateExternalRef
		}
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) MarkApplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	const markApplied = `
	UPDATE transactions SET applied_at = $2, updated_at = $2
	WHERE id = $1 AND applied_at IS NULL
	`

	tag, err := r.db.Exec(ctx, markApplied, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrTransactionNotFound
	}

	return nil
}

func (r *TransactionRepo) ListTransactions(ctx context.Context, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	var conds []string
	var args []any

	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.UserID != nil {
		conds = append(conds, "user_id = "+arg(*opts.UserID))
	}
	if len(opts.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(opts.Statuses)+")")
	}
	if len(opts.Types) > 0 {
		conds = append(conds, "type = ANY("+arg(opts.Types)+")")
	}
	if len(opts.Methods) > 0 {
		conds = append(conds, "payment_method = ANY("+arg(opts.Methods)+")")
	}
	if opts.From != nil {
		conds = append(conds, "created_at >= "+arg(*opts.From))
	}
	if opts.To != nil {
		conds = append(conds, "created_at <= "+arg(*opts.To))
	}

	query := `SELECT ` + txColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// Sort column is whitelisted, never interpolated from user input directly
	orderBy := "created_at"
	switch opts.OrderBy {
	case "", "created_at":
	case "amount", "updated_at":
		orderBy = opts.OrderBy
	default:
		return nil, fmt.Errorf("unsupported sort column %q", opts.OrderBy)
	}
	query += " ORDER BY " + orderBy
	if opts.Desc {
		query += " DESC"
	}

	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, _ := r.db.Query(ctx, query, args...)
	list, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return list, nil
}

func (r *TransactionRepo) ListPendingConfirmation(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	const listPending = `
	SELECT ` + txColumns + `
	FROM transactions
	WHERE NOT is_resolved
	  AND external_ref IS NOT NULL
	  AND status IN ('PENDING', 'INCOMPLETE')
	  AND created_at < $1
	ORDER BY created_at
	LIMIT $2
	`

	rows, _ := r.db.Query(ctx, listPending, before, limit)
	list, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return list, nil
}

func (r *TransactionRepo) ListUnapplied(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	const listUnapplied = `
	SELECT ` + txColumns + `
	FROM transactions
	WHERE status = 'SUCCEEDED' AND applied_at IS NULL AND updated_at < $1
	ORDER BY updated_at
	LIMIT $2
	`

	rows, _ := r.db.Query(ctx, listUnapplied, before, limit)
	list, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return list, nil
}

func (r *TransactionRepo) AmountSeries(ctx context.Context, opts repository.SeriesOpts) ([]repository.SeriesRow, error) {
	const amountSeries = `
	SELECT to_char(created_at, $2) AS bucket,
	       min(created_at) AS bucket_start,
	       COALESCE(SUM(CASE WHEN operator = 'credit' THEN amount ELSE 0 END), 0) AS amount_in,
	       COALESCE(SUM(CASE WHEN operator = 'debit' THEN amount ELSE 0 END), 0) AS amount_out
	FROM transactions
	WHERE user_id = $1 AND status = 'SUCCEEDED' AND created_at >= $3 AND created_at <= $4
	GROUP BY 1
	ORDER BY 2
	`

	rows, _ := r.db.Query(ctx, amountSeries, opts.UserID, opts.Format, opts.From, opts.To)
	series, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.SeriesRow, error) {
		var s repository.SeriesRow
		err := row.Scan(&s.Bucket, &s.Date, &s.In, &s.Out)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return series, nil
}

func (r *TransactionRepo) AmountTotals(ctx context.Context, userID uuid.UUID) (repository.Totals, error) {
	const amountTotals = `
	SELECT COALESCE(SUM(CASE WHEN operator = 'credit' THEN amount ELSE 0 END), 0) AS amount_in,
	       COALESCE(SUM(CASE WHEN operator = 'debit' THEN amount ELSE 0 END), 0) AS amount_out
	FROM transactions
	WHERE user_id = $1 AND status = 'SUCCEEDED'
	`

	var totals repository.Totals
	err := r.db.QueryRow(ctx, amountTotals, userID).Scan(&totals.In, &totals.Out)
	if err != nil {
		return totals, fmt.Errorf("db error: %w", err)
	}

	return totals, nil
}
