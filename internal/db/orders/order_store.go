package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caravan/internal/orders"
)

// OrderStore persists orders and the idempotency ledger in Postgres.
// The UNIQUE constraint on idempotency_key is what makes Create atomic:
// two concurrent identical requests race on one insert and the loser
// reads the winner's row.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			idempotency_key TEXT UNIQUE NOT NULL,
			item_sku TEXT NOT NULL,
			quantity INT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Create inserts the order or returns the one already bound to its
// idempotency key.
func (s *OrderStore) Create(ctx context.Context, order orders.Order) (orders.Order, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, idempotency_key, item_sku, quantity, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		order.ID, order.IdempotencyKey, order.SKU, order.Quantity, order.Amount, order.Status, order.CreatedAt,
	)
	if err != nil {
		return orders.Order{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return orders.Order{}, false, err
	}

	stored, err := s.getBy(ctx, "idempotency_key", order.IdempotencyKey)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return orders.Order{}, false, fmt.Errorf("order not found after insert")
		}
		return orders.Order{}, false, err
	}

	return stored, affected == 1, nil
}

// Get returns the order by id.
func (s *OrderStore) Get(ctx context.Context, orderID string) (orders.Order, error) {
	return s.getBy(ctx, "order_id", orderID)
}

// Finalize moves a PENDING order to a terminal status; affected rows
// distinguish a transition from an already-terminal no-op.
func (s *OrderStore) Finalize(ctx context.Context, orderID string, status orders.Status, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, reason = $3
		WHERE order_id = $1 AND status = $4`,
		orderID, status, reason, orders.StatusPending,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish "already terminal" from "never existed".
	if _, err := s.Get(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *OrderStore) getBy(ctx context.Context, column, value string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, idempotency_key, item_sku, quantity, amount, status, reason, created_at
		FROM orders
		WHERE `+column+` = $1`,
		value,
	)

	var order orders.Order
	var status string
	if err := row.Scan(&order.ID, &order.IdempotencyKey, &order.SKU, &order.Quantity, &order.Amount, &status, &order.Reason, &order.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Order{}, orders.ErrNotFound
		}
		return orders.Order{}, err
	}
	order.Status = orders.Status(status)
	return order, nil
}
