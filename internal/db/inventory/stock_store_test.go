package inventorydb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"caravan/internal/inventory"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newStockMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func reservationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"order_id", "item_sku", "quantity", "amount", "state", "created_at"})
}

var reservedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testReservation() inventory.Reservation {
	return inventory.Reservation{
		OrderID:   "order-1",
		SKU:       "sku-a",
		Quantity:  2,
		Amount:    100,
		State:     inventory.ReservationReserved,
		CreatedAt: reservedAt,
	}
}

func TestStockStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stock_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reservations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewStockStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestStockStore_Reserve_New(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT order_id, item_sku, quantity").
		WithArgs("order-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE stock_items").
		WithArgs("sku-a", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs("order-1", "sku-a", 2, 100.0, "RESERVED", reservedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewStockStore(db)
	res, created, err := store.Reserve(context.Background(), testReservation())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !created {
		t.Fatalf("expected new reservation")
	}
	if res.OrderID != "order-1" || res.Quantity != 2 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
}

func TestStockStore_Reserve_ExistingReservationShortCircuits(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT order_id, item_sku, quantity").
		WithArgs("order-1").
		WillReturnRows(reservationRows().
			AddRow("order-1", "sku-a", 2, 100.0, "RESERVED", reservedAt))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewStockStore(db)
	res, created, err := store.Reserve(context.Background(), testReservation())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if created {
		t.Fatalf("duplicate order must not reserve again")
	}
	if res.State != inventory.ReservationReserved {
		t.Fatalf("unexpected state %q", res.State)
	}
}

func TestStockStore_Reserve_InsufficientStock(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT order_id, item_sku, quantity").
		WithArgs("order-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE stock_items").
		WithArgs("sku-a", 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectClose()

	store := NewStockStore(db)
	_, _, err := store.Reserve(context.Background(), testReservation())
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestStockStore_Compensate_RestoresOnce(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reservations").
		WithArgs("order-1", "COMPENSATED", "RESERVED").
		WillReturnRows(reservationRows().
			AddRow("order-1", "sku-a", 2, 100.0, "COMPENSATED", reservedAt))
	mock.ExpectExec("UPDATE stock_items").
		WithArgs("sku-a", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewStockStore(db)
	res, restored, err := store.Compensate(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	if !restored {
		t.Fatalf("expected restoration")
	}
	if res.SKU != "sku-a" || res.Quantity != 2 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
}

func TestStockStore_Compensate_AlreadyCompensatedIsNoop(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reservations").
		WithArgs("order-1", "COMPENSATED", "RESERVED").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewStockStore(db)
	_, restored, err := store.Compensate(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	if restored {
		t.Fatalf("duplicate compensation must restore nothing")
	}
}

func TestStockStore_Finalize(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE reservations").
		WithArgs("order-1", "FINALIZED", "RESERVED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewStockStore(db)
	changed, err := store.Finalize(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !changed {
		t.Fatalf("expected finalization")
	}
}

func TestStockStore_Available_UnknownSKUIsZero(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT quantity FROM stock_items").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewStockStore(db)
	quantity, err := store.Available(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if quantity != 0 {
		t.Fatalf("expected zero, got %d", quantity)
	}
}

func TestStockStore_SetStock(t *testing.T) {
	db, mock, cleanup := newStockMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO stock_items").
		WithArgs("sku-a", 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewStockStore(db)
	if err := store.SetStock(context.Background(), "sku-a", 10); err != nil {
		t.Fatalf("SetStock: %v", err)
	}
}
