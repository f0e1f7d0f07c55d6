package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type txContextKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs functions inside a database transaction carried on the context.
type TxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewTxManager constructs a TxManager using READ COMMITTED isolation.
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

// RunInTx begins a transaction, exposes it to repositories through ctx and commits when fn
// returns nil. Any error or panic rolls back. Nested calls join the outer transaction.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return WrapError("tx.begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return WrapError("tx.commit", err)
	}
	return nil
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db
}
