package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caravan/cmd/server/config"
	"caravan/internal/bus"
	"caravan/internal/inventory"
	"caravan/internal/observability"
	"caravan/internal/orders"
	"caravan/internal/payments"
	"caravan/internal/realtime"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	serverCfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	busCfg, err := config.LoadBus()
	if err != nil {
		return err
	}
	sagaCfg, err := config.LoadSaga()
	if err != nil {
		return err
	}

	stores, cleanupStores := buildStores(ctx, sagaCfg.DatabaseURL, log.Printf)
	defer cleanupStores()

	eventBus, cleanupBus, err := buildBus(ctx, busCfg)
	if err != nil {
		return err
	}
	defer cleanupBus()

	metrics := observability.NewMetrics()
	hub := realtime.NewHub()
	go hub.Run(ctx)

	publisher := observability.NewInstrumentedPublisher(bus.NewFanoutPublisher(eventBus, hub), metrics)
	subscriber := observability.NewInstrumentedSubscriber(eventBus, metrics)

	orderSvc := orders.NewService(stores.orders, publisher, nil, log.Printf)
	inventorySvc := inventory.NewService(stores.inventory, publisher, log.Printf)
	paymentSvc := payments.NewService(stores.payments, payments.ThresholdAuthorizer(sagaCfg.DeclineThreshold), publisher, log.Printf)

	if err := orderSvc.Register(subscriber); err != nil {
		return err
	}
	if err := inventorySvc.Register(subscriber); err != nil {
		return err
	}
	if err := paymentSvc.Register(subscriber); err != nil {
		return err
	}

	for sku, qty := range sagaCfg.SeedStock {
		if err := stores.seedStock(ctx, sku, qty); err != nil {
			return err
		}
		log.Printf("inventory: seeded %s with %d units", sku, qty)
	}

	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: newAPI(orderSvc, hub, metrics).routes(),
	}

	log.Printf("server running on %s (bus=%s)", serverCfg.Addr, busCfg.Backend)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
