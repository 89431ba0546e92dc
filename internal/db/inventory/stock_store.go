package inventorydb

import (
	"context"
	"database/sql"
	"errors"

	"caravan/internal/inventory"
)

// StockStore persists stock levels and reservations in Postgres. The
// conditional UPDATE on stock_items is the per-SKU critical section:
// Postgres row locks serialize concurrent reservations of one SKU and
// the quantity predicate keeps the level non-negative.
type StockStore struct {
	db *sql.DB
}

// NewStockStore constructs a StockStore backed by Postgres.
func NewStockStore(db *sql.DB) *StockStore {
	return &StockStore{db: db}
}

// NewStockStoreWithSchema initializes the schema then returns the store.
func NewStockStoreWithSchema(ctx context.Context, db *sql.DB) (*StockStore, error) {
	store := NewStockStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the stock tables if they do not exist.
func (s *StockStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stock_items (
			item_sku TEXT PRIMARY KEY,
			quantity INT NOT NULL CHECK (quantity >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			order_id TEXT PRIMARY KEY,
			item_sku TEXT NOT NULL,
			quantity INT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetStock upserts the available quantity for a SKU (seeding).
func (s *StockStore) SetStock(ctx context.Context, sku string, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (item_sku, quantity)
		VALUES ($1, $2)
		ON CONFLICT (item_sku) DO UPDATE SET quantity = EXCLUDED.quantity`,
		sku, quantity,
	)
	return err
}

// Reserve decrements stock and records the reservation in one
// transaction. An existing reservation for the order is returned as-is
// with false; short stock rolls back and returns ErrInsufficientStock.
func (s *StockStore) Reserve(ctx context.Context, r inventory.Reservation) (inventory.Reservation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Reservation{}, false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := scanReservation(tx.QueryRowContext(ctx, `
		SELECT order_id, item_sku, quantity, amount, state, created_at
		FROM reservations
		WHERE order_id = $1`,
		r.OrderID,
	))
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return inventory.Reservation{}, false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = quantity - $2
		WHERE item_sku = $1 AND quantity >= $2`,
		r.SKU, r.Quantity,
	)
	if err != nil {
		return inventory.Reservation{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return inventory.Reservation{}, false, err
	}
	if affected == 0 {
		return inventory.Reservation{}, false, inventory.ErrInsufficientStock
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (order_id, item_sku, quantity, amount, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.OrderID, r.SKU, r.Quantity, r.Amount, r.State, r.CreatedAt,
	); err != nil {
		return inventory.Reservation{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return inventory.Reservation{}, false, err
	}
	return r, true, nil
}

// Compensate flips the reservation to COMPENSATED and restores its
// quantity in one transaction; a reservation that is absent or already
// out of RESERVED restores nothing.
func (s *StockStore) Compensate(ctx context.Context, orderID string) (inventory.Reservation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Reservation{}, false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	reserved, err := scanReservation(tx.QueryRowContext(ctx, `
		UPDATE reservations
		SET state = $2
		WHERE order_id = $1 AND state = $3
		RETURNING order_id, item_sku, quantity, amount, state, created_at`,
		orderID, inventory.ReservationCompensated, inventory.ReservationReserved,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Reservation{}, false, tx.Commit()
	}
	if err != nil {
		return inventory.Reservation{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = quantity + $2
		WHERE item_sku = $1`,
		reserved.SKU, reserved.Quantity,
	); err != nil {
		return inventory.Reservation{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return inventory.Reservation{}, false, err
	}
	return reserved, true, nil
}

// Finalize marks a RESERVED reservation FINALIZED; no stock change.
func (s *StockStore) Finalize(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET state = $2
		WHERE order_id = $1 AND state = $3`,
		orderID, inventory.ReservationFinalized, inventory.ReservationReserved,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Available returns the current stock level; unknown SKUs report zero.
func (s *StockStore) Available(ctx context.Context, sku string) (int, error) {
	var quantity int
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_items WHERE item_sku = $1`,
		sku,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (inventory.Reservation, error) {
	var r inventory.Reservation
	var state string
	if err := row.Scan(&r.OrderID, &r.SKU, &r.Quantity, &r.Amount, &state, &r.CreatedAt); err != nil {
		return inventory.Reservation{}, err
	}
	r.State = inventory.ReservationState(state)
	return r, nil
}
