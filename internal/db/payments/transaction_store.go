package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caravan/internal/payments"
)

// TransactionStore persists the append-only payment ledger in Postgres.
// The primary key on order_id plus ON CONFLICT DO NOTHING makes Record
// idempotent: a duplicate authorization attempt never writes a second row.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore constructs a TransactionStore backed by Postgres.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NewTransactionStoreWithSchema initializes the schema then returns the store.
func NewTransactionStoreWithSchema(ctx context.Context, db *sql.DB) (*TransactionStore, error) {
	store := NewTransactionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the transactions table if it does not exist.
func (s *TransactionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			order_id TEXT PRIMARY KEY,
			amount DOUBLE PRECISION NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Record inserts the transaction unless one exists for the order, in
// which case the stored record is returned with false.
func (s *TransactionStore) Record(ctx context.Context, tx payments.Transaction) (payments.Transaction, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (order_id, amount, decision, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		tx.OrderID, tx.Amount, tx.Decision, tx.Reason, tx.CreatedAt,
	)
	if err != nil {
		return payments.Transaction{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return payments.Transaction{}, false, err
	}
	if affected == 1 {
		return tx, true, nil
	}

	stored, err := s.Get(ctx, tx.OrderID)
	if err != nil {
		if errors.Is(err, payments.ErrTransactionNotFound) {
			return payments.Transaction{}, false, fmt.Errorf("transaction not found after insert")
		}
		return payments.Transaction{}, false, err
	}
	return stored, false, nil
}

// Get returns the transaction for the order.
func (s *TransactionStore) Get(ctx context.Context, orderID string) (payments.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, amount, decision, reason, created_at
		FROM transactions
		WHERE order_id = $1`,
		orderID,
	)

	var tx payments.Transaction
	var decision string
	if err := row.Scan(&tx.OrderID, &tx.Amount, &decision, &tx.Reason, &tx.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payments.Transaction{}, payments.ErrTransactionNotFound
		}
		return payments.Transaction{}, err
	}
	tx.Decision = payments.Decision(decision)
	return tx, nil
}
