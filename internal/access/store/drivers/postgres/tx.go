package postgres

import (
	"context"

	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/jackc/pgx/v5"
)

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit(context.Background()) }
func (t *txStore) Rollback() error { return t.tx.Rollback(context.Background()) }

func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	nested, err := t.tx.Begin(ctx) // savepoint
	if err != nil {
		return nil, err
	}
	return &txStore{tx: nested}, nil
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	nested, err := t.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = nested.Rollback() }()

	if err := fn(nested); err != nil {
		return err
	}
	return nested.Commit()
}

func (t *txStore) Usage() store.Usage { return &usageRepo{q: t.tx} }
func (t *txStore) Audit() store.Audit { return &auditRepo{q: t.tx} }
func (t *txStore) Users() store.Users { return &usersRepo{q: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil }
