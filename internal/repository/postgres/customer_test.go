package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/repository"
	"github.com/liderhq/payhub/internal/testutil"
)

func TestCustomerRepo(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("missing customer", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Customer().GetCustomer(t.Context(), uuid.New())

			require.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
		})
	})

	t.Run("set and get", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			created, err := storage.Customer().SetStripeCustomer(t.Context(), userID, "cus_123")
			require.NoError(t, err)
			require.NotNil(t, created.StripeCustomerID)
			require.Equal(t, "cus_123", *created.StripeCustomerID)

			got, err := storage.Customer().GetCustomer(t.Context(), userID)
			require.NoError(t, err)
			require.Equal(t, created.UserID, got.UserID)
			require.Equal(t, "cus_123", *got.StripeCustomerID)
		})
	})

	t.Run("set twice keeps latest id", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			_, err := storage.Customer().SetStripeCustomer(t.Context(), userID, "cus_old")
			require.NoError(t, err)

			updated, err := storage.Customer().SetStripeCustomer(t.Context(), userID, "cus_new")
			require.NoError(t, err)
			require.Equal(t, "cus_new", *updated.StripeCustomerID)
		})
	})
}
