package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	inventorydb "caravan/internal/db/inventory"
	ordersdb "caravan/internal/db/orders"
	paymentsdb "caravan/internal/db/payments"
	"caravan/internal/inventory"
	"caravan/internal/orders"
	"caravan/internal/payments"
)

var openSagaDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

type sagaStores struct {
	orders    orders.Store
	inventory inventory.Store
	payments  payments.Store
	seedStock func(ctx context.Context, sku string, quantity int) error
}

// buildStores wires the persistence layer. With a DSN it uses Postgres
// for all three participants; with an empty DSN, or when Postgres
// initialization fails, it falls back to in-memory stores so the saga
// still runs locally.
func buildStores(ctx context.Context, dsn string, logf func(format string, args ...any)) (sagaStores, func()) {
	if logf == nil {
		logf = log.Printf
	}

	if dsn != "" {
		sqlDB, err := openSagaDB("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory stores: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			stores, err := buildPostgresStores(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory stores: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres stores enabled")
				cleanup := func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
				return stores, cleanup
			}
		}
	}

	stock := inventory.NewInMemoryStore()
	return sagaStores{
		orders:    orders.NewInMemoryStore(),
		inventory: stock,
		payments:  payments.NewInMemoryStore(),
		seedStock: func(_ context.Context, sku string, quantity int) error {
			stock.SetStock(sku, quantity)
			return nil
		},
	}, func() {}
}

func buildPostgresStores(ctx context.Context, sqlDB *sql.DB) (sagaStores, error) {
	orderStore, err := ordersdb.NewOrderStoreWithSchema(ctx, sqlDB)
	if err != nil {
		return sagaStores{}, err
	}
	stockStore, err := inventorydb.NewStockStoreWithSchema(ctx, sqlDB)
	if err != nil {
		return sagaStores{}, err
	}
	txStore, err := paymentsdb.NewTransactionStoreWithSchema(ctx, sqlDB)
	if err != nil {
		return sagaStores{}, err
	}
	return sagaStores{
		orders:    orderStore,
		inventory: stockStore,
		payments:  txStore,
		seedStock: stockStore.SetStock,
	}, nil
}
