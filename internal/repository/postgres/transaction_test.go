package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/testutil"
)

func strPtr(s string) *string { return &s }

func topUpParams(userID uuid.UUID) repository.CreateTransactionParams {
	return repository.CreateTransactionParams{
		UserID:        userID,
		Amount:        decimal.NewFromInt(100),
		Operator:      models.OperatorCredit,
		Type:          models.TxTypeTopUp,
		PaymentMethod: models.MethodStripe,
		Status:        models.TxStatusPending,
	}
}

func TestTransactionRepo(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("CreateTransaction", func(t *testing.T) {
		t.Run("create ok", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				params := topUpParams(uuid.New())
				params.Metadata = models.Metadata{models.MetaBaseAmount: "100"}

				got, err := storage.Transaction().CreateTransaction(t.Context(), params)

				require.NoError(t, err)
				require.NotZero(t, got.ID)
				require.Equal(t, params.UserID, got.UserID)
				require.True(t, got.Amount.Equal(params.Amount), "amount should match")
				require.Equal(t, models.TxStatusPending, got.Status)
				require.False(t, got.IsResolved)
				require.Nil(t, got.AppliedAt)
				require.Equal(t, "100", got.Metadata[models.MetaBaseAmount])
			})
		})

		t.Run("nil metadata stored as empty map", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				got, err := storage.Transaction().CreateTransaction(t.Context(), topUpParams(uuid.New()))

				require.NoError(t, err)
				require.NotNil(t, got.Metadata)
				require.Empty(t, got.Metadata)
			})
		})

		t.Run("duplicate external ref for same user and type", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				userID := uuid.New()

				params := topUpParams(userID)
				params.ExternalRef = strPtr("pi_dup")
				_, err := storage.Transaction().CreateTransaction(t.Context(), params)
				require.NoError(t, err)

				_, err = storage.Transaction().CreateTransaction(t.Context(), params)

				require.ErrorIs(t, err, apperrors.ErrDuplicateExternalRef)
			})
		})

		t.Run("same external ref allowed for different type", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				userID := uuid.New()

				params := topUpParams(userID)
				params.ExternalRef = strPtr("pi_shared")
				_, err := storage.Transaction().CreateTransaction(t.Context(), params)
				require.NoError(t, err)

				feeParams := params
				feeParams.Type = models.TxTypeActiveCardFee
				feeParams.Operator = models.OperatorNone
				_, err = storage.Transaction().CreateTransaction(t.Context(), feeParams)

				require.NoError(t, err, "uniqueness is scoped to (user, type)")
			})
		})
	})

	t.Run("GetTransaction", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			params := topUpParams(userID)
			params.ExternalRef = strPtr("pi_get")
			created, err := storage.Transaction().CreateTransaction(t.Context(), params)
			require.NoError(t, err)

			t.Run("by id", func(t *testing.T) {
				got, err := storage.Transaction().GetTransaction(t.Context(), repository.TransactionFilter{ID: &created.ID})

				require.NoError(t, err)
				require.Equal(t, created.ID, got.ID)
			})

			t.Run("by user and external ref", func(t *testing.T) {
				got, err := storage.Transaction().GetTransaction(t.Context(), repository.TransactionFilter{
					UserID:      &userID,
					ExternalRef: strPtr("pi_get"),
					Type:        models.TxTypeTopUp,
				})

				require.NoError(t, err)
				require.Equal(t, created.ID, got.ID)
			})

			t.Run("no match", func(t *testing.T) {
				_, err := storage.Transaction().GetTransaction(t.Context(), repository.TransactionFilter{
					UserID:      &userID,
					ExternalRef: strPtr("pi_missing"),
				})

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
			})
		})
	})

	t.Run("UpdateTransaction", func(t *testing.T) {
		t.Run("conditional status transition", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Transaction().CreateTransaction(t.Context(), topUpParams(uuid.New()))
				require.NoError(t, err)

				succeeded := models.TxStatusSucceeded
				resolved := true
				got, err := storage.Transaction().UpdateTransaction(t.Context(),
					repository.TransactionFilter{ID: &created.ID, Status: models.TxStatusPending},
					repository.TransactionPatch{Status: &succeeded, IsResolved: &resolved})

				require.NoError(t, err)
				require.Equal(t, models.TxStatusSucceeded, got.Status)
				require.True(t, got.IsResolved)
				require.True(t, got.UpdatedAt.After(created.UpdatedAt))
			})
		})

		t.Run("expected status mismatch matches nothing", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Transaction().CreateTransaction(t.Context(), topUpParams(uuid.New()))
				require.NoError(t, err)

				succeeded := models.TxStatusSucceeded
				resolved := true
				_, err = storage.Transaction().UpdateTransaction(t.Context(),
					repository.TransactionFilter{ID: &created.ID, Status: models.TxStatusPending},
					repository.TransactionPatch{Status: &succeeded, IsResolved: &resolved})
				require.NoError(t, err)

				// Second transition with the stale expected status loses
				failed := models.TxStatusFailed
				_, err = storage.Transaction().UpdateTransaction(t.Context(),
					repository.TransactionFilter{ID: &created.ID, Status: models.TxStatusPending},
					repository.TransactionPatch{Status: &failed})

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

				got, err := storage.Transaction().GetTransaction(t.Context(), repository.TransactionFilter{ID: &created.ID})
				require.NoError(t, err)
				require.Equal(t, models.TxStatusSucceeded, got.Status, "won transition should stand")
			})
		})

		t.Run("metadata merge keeps existing keys", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				params := topUpParams(uuid.New())
				params.Metadata = models.Metadata{models.MetaBaseAmount: "100"}
				created, err := storage.Transaction().CreateTransaction(t.Context(), params)
				require.NoError(t, err)

				got, err := storage.Transaction().UpdateTransaction(t.Context(),
					repository.TransactionFilter{ID: &created.ID},
					repository.TransactionPatch{
						ExternalRef:   strPtr("pi_merge"),
						MergeMetadata: models.Metadata{models.MetaClientSecret: "pi_merge_secret"},
					})

				require.NoError(t, err)
				require.Equal(t, "pi_merge", *got.ExternalRef)
				require.Equal(t, "100", got.Metadata[models.MetaBaseAmount])
				require.Equal(t, "pi_merge_secret", got.Metadata[models.MetaClientSecret])
			})
		})
	})

	t.Run("MarkApplied", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			created, err := storage.Transaction().CreateTransaction(t.Context(), topUpParams(uuid.New()))
			require.NoError(t, err)

			err = storage.Transaction().MarkApplied(t.Context(), created.ID, time.Now())
			require.NoError(t, err, "first application should pass")

			err = storage.Transaction().MarkApplied(t.Context(), created.ID, time.Now())
			require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "second application should be rejected")
		})
	})

	t.Run("ListTransactions", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			topUp, err := storage.Transaction().CreateTransaction(t.Context(), topUpParams(userID))
			require.NoError(t, err)

			charge, err := storage.Transaction().CreateTransaction(t.Context(), repository.CreateTransactionParams{
				UserID:        userID,
				Amount:        decimal.NewFromInt(30),
				Operator:      models.OperatorDebit,
				Type:          models.TxTypeServiceCharge,
				PaymentMethod: models.MethodInternal,
				Status:        models.TxStatusSucceeded,
			})
			require.NoError(t, err)

			t.Run("all for user newest first", func(t *testing.T) {
				list, err := storage.Transaction().ListTransactions(t.Context(), repository.ListTransactionsOpts{
					UserID: &userID,
					Desc:   true,
				})

				require.NoError(t, err)
				require.Len(t, list, 2)
				require.Equal(t, charge.ID, list[0].ID)
				require.Equal(t, topUp.ID, list[1].ID)
			})

			t.Run("filter by type", func(t *testing.T) {
				list, err := storage.Transaction().ListTransactions(t.Context(), repository.ListTransactionsOpts{
					UserID: &userID,
					Types:  []string{models.TxTypeServiceCharge},
				})

				require.NoError(t, err)
				require.Len(t, list, 1)
				require.Equal(t, charge.ID, list[0].ID)
			})

			t.Run("limit and offset", func(t *testing.T) {
				list, err := storage.Transaction().ListTransactions(t.Context(), repository.ListTransactionsOpts{
					UserID: &userID,
					Limit:  1,
					Offset: 1,
				})

				require.NoError(t, err)
				require.Len(t, list, 1)
				require.Equal(t, charge.ID, list[0].ID)
			})

			t.Run("unknown sort column rejected", func(t *testing.T) {
				_, err := storage.Transaction().ListTransactions(t.Context(), repository.ListTransactionsOpts{
					UserID:  &userID,
					OrderBy: "amount; DROP TABLE transactions",
				})

				require.Error(t, err)
			})
		})
	})

	t.Run("ListPendingConfirmation", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			withRef := topUpParams(userID)
			withRef.ExternalRef = strPtr("pi_stale")
			stale, err := storage.Transaction().CreateTransaction(t.Context(), withRef)
			require.NoError(t, err)

			// No external ref, the processor call never completed
			_, err = storage.Transaction().CreateTransaction(t.Context(), topUpParams(userID))
			require.NoError(t, err)

			list, err := storage.Transaction().ListPendingConfirmation(t.Context(), time.Now().Add(time.Minute), 10)

			require.NoError(t, err)
			require.Len(t, list, 1, "only entries with an external ref are confirmable")
			require.Equal(t, stale.ID, list[0].ID)

			t.Run("age cutoff", func(t *testing.T) {
				list, err := storage.Transaction().ListPendingConfirmation(t.Context(), time.Now().Add(-time.Minute), 10)

				require.NoError(t, err)
				require.Empty(t, list, "fresh entries belong to the request path")
			})
		})
	})

	t.Run("ListUnapplied", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			params := topUpParams(userID)
			params.Status = models.TxStatusSucceeded
			params.IsResolved = true
			owed, err := storage.Transaction().CreateTransaction(t.Context(), params)
			require.NoError(t, err)

			now := time.Now()
			applied := topUpParams(userID)
			applied.Status = models.TxStatusSucceeded
			applied.IsResolved = true
			applied.AppliedAt = &now
			_, err = storage.Transaction().CreateTransaction(t.Context(), applied)
			require.NoError(t, err)

			list, err := storage.Transaction().ListUnapplied(t.Context(), time.Now().Add(time.Minute), 10)

			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, owed.ID, list[0].ID)
		})
	})

	t.Run("AmountSeries", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			create := func(amount int64, operator string, status string) {
				t.Helper()
				_, err := storage.Transaction().CreateTransaction(t.Context(), repository.CreateTransactionParams{
					UserID:        userID,
					Amount:        decimal.NewFromInt(amount),
					Operator:      operator,
					Type:          models.TxTypeTopUp,
					PaymentMethod: models.MethodStripe,
					Status:        status,
				})
				require.NoError(t, err)
			}

			create(100, models.OperatorCredit, models.TxStatusSucceeded)
			create(50, models.OperatorCredit, models.TxStatusSucceeded)
			create(30, models.OperatorDebit, models.TxStatusSucceeded)
			create(999, models.OperatorCredit, models.TxStatusFailed)

			series, err := storage.Transaction().AmountSeries(t.Context(), repository.SeriesOpts{
				UserID: userID,
				From:   time.Now().Add(-time.Hour),
				To:     time.Now().Add(time.Hour),
				Format: "YYYY-MM-DD",
			})

			require.NoError(t, err)
			require.Len(t, series, 1, "all entries land in today's bucket")
			require.True(t, series[0].In.Equal(decimal.NewFromInt(150)), "failed entries excluded from credits")
			require.True(t, series[0].Out.Equal(decimal.NewFromInt(30)))
		})
	})

	t.Run("AmountTotals", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			params := topUpParams(userID)
			params.Status = models.TxStatusSucceeded
			_, err := storage.Transaction().CreateTransaction(t.Context(), params)
			require.NoError(t, err)

			totals, err := storage.Transaction().AmountTotals(t.Context(), userID)

			require.NoError(t, err)
			require.True(t, totals.In.Equal(decimal.NewFromInt(100)))
			require.True(t, totals.Out.IsZero())
		})
	})
}
