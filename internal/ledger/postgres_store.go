package ledger

import (
	"context"
	"database/sql"
)

// PostgresBalanceStore persists balances in PostgreSQL. Exclusivity comes
// from SELECT ... FOR UPDATE, so the lock also serializes against other
// gate instances sharing the database.
type PostgresBalanceStore struct {
	db *sql.DB
}

// NewPostgresBalanceStore creates a PostgreSQL-backed balance store.
func NewPostgresBalanceStore(db *sql.DB) *PostgresBalanceStore {
	return &PostgresBalanceStore{db: db}
}

func (p *PostgresBalanceStore) LockAndRead(ctx context.Context, userID string) (int64, BalanceTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return 0, nil, ErrAccountNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, err
	}

	return balance, &postgresTx{tx: tx, userID: userID}, nil
}

type postgresTx struct {
	tx     *sql.Tx
	userID string
	done   bool
}

func (t *postgresTx) Write(ctx context.Context, newBalance int64) error {
	if t.done {
		return nil
	}
	t.done = true
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE balances SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		newBalance, t.userID,
	); err != nil {
		_ = t.tx.Rollback()
		return err
	}
	return t.tx.Commit()
}

func (t *postgresTx) Release() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}
