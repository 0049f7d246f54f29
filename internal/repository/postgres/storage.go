package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/liderhq/payhub/internal/repository"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the repositories need
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) Transaction() repository.TransactionRepo {
	return &TransactionRepo{db: s.db}
}

func (s *Storage) Balance() repository.BalanceRepo {
	return &BalanceRepo{db: s.db}
}

func (s *Storage) Customer() repository.CustomerRepo {
	return &CustomerRepo{db: s.db}
}

func (s *Storage) Card() repository.CardRepo {
	return &CardRepo{db: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
