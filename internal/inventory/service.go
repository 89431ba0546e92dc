package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"caravan/internal/bus"
	"caravan/internal/saga"
)

// ReservationState tracks what happened to a reservation after it was
// taken. Exactly one transition out of RESERVED is allowed.
type ReservationState string

const (
	ReservationReserved    ReservationState = "RESERVED"
	ReservationFinalized   ReservationState = "FINALIZED"
	ReservationCompensated ReservationState = "COMPENSATED"
)

// Reservation records the stock held for one order. Quantity is the
// amount to restore on compensation, regardless of how the SKU's level
// has moved since.
type Reservation struct {
	OrderID   string
	SKU       string
	Quantity  int
	Amount    float64
	State     ReservationState
	CreatedAt time.Time
}

// ErrInsufficientStock signals the SKU cannot cover the requested
// quantity. It is an expected saga outcome, not an infrastructure error.
var ErrInsufficientStock = errors.New("insufficient stock")

// Store owns stock levels and reservations. Reserve and Compensate are
// the only stock mutators and must be atomic per SKU: concurrent
// reservations against one SKU serialize, and the available quantity
// never goes negative.
type Store interface {
	// Reserve atomically checks for an existing reservation, decrements
	// stock, and records the reservation. When the order already holds a
	// reservation the stored one is returned with false and stock is not
	// touched. Insufficient stock returns ErrInsufficientStock.
	Reserve(ctx context.Context, r Reservation) (Reservation, bool, error)
	// Compensate atomically restores the reserved quantity and marks the
	// reservation COMPENSATED. It reports false when the reservation is
	// absent or no longer RESERVED, restoring nothing.
	Compensate(ctx context.Context, orderID string) (Reservation, bool, error)
	// Finalize marks a RESERVED reservation FINALIZED; no stock change.
	Finalize(ctx context.Context, orderID string) (bool, error)
	// Available returns the current stock level for the SKU.
	Available(ctx context.Context, sku string) (int, error)
}

// Service is the inventory participant.
type Service struct {
	store     Store
	publisher bus.Publisher
	logf      func(format string, args ...any)
}

// NewService constructs the inventory participant.
func NewService(store Store, publisher bus.Publisher, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{store: store, publisher: publisher, logf: logf}
}

// HandleOrderCreated reserves stock for the order or rejects it. A
// redelivered event republishes stock.reserved from the stored
// reservation instead of decrementing again.
func (s *Service) HandleOrderCreated(ctx context.Context, env saga.Envelope) error {
	var evt saga.OrderCreated
	if err := env.Decode(&evt); err != nil {
		return err
	}

	res, created, err := s.store.Reserve(ctx, Reservation{
		OrderID:   evt.OrderID,
		SKU:       evt.SKU,
		Quantity:  evt.Quantity,
		Amount:    evt.Amount,
		State:     ReservationReserved,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, ErrInsufficientStock) {
		s.logf("inventory: rejecting %s, insufficient stock for %s x%d", evt.OrderID, evt.SKU, evt.Quantity)
		return s.publish(ctx, env, saga.TopicStockRejected, saga.StockRejected{
			OrderID: evt.OrderID,
			Reason:  saga.ReasonInsufficientStock,
		})
	}
	if err != nil {
		return fmt.Errorf("reserve stock for %s: %w", evt.OrderID, err)
	}

	if !created && res.State != ReservationReserved {
		// The saga already moved past payment; nothing to replay.
		return nil
	}
	if created {
		s.logf("inventory: reserved %s x%d for %s", res.SKU, res.Quantity, res.OrderID)
	}

	return s.publish(ctx, env, saga.TopicStockReserved, saga.StockReserved{
		OrderID:  res.OrderID,
		SKU:      res.SKU,
		Quantity: res.Quantity,
		Amount:   res.Amount,
	})
}

// HandlePaymentFailed compensates the reservation: the recorded quantity
// goes back to stock exactly once. Duplicates and unknown orders are
// no-ops.
func (s *Service) HandlePaymentFailed(ctx context.Context, env saga.Envelope) error {
	var evt saga.PaymentFailed
	if err := env.Decode(&evt); err != nil {
		return err
	}

	res, restored, err := s.store.Compensate(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("compensate %s: %w", evt.OrderID, err)
	}
	if restored {
		s.logf("inventory: restored %s x%d after payment failure on %s", res.SKU, res.Quantity, res.OrderID)
	}
	return nil
}

// HandlePaymentSucceeded makes the reservation permanent so a stray
// later payment.failed can no longer trigger a restore.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, env saga.Envelope) error {
	var evt saga.PaymentSucceeded
	if err := env.Decode(&evt); err != nil {
		return err
	}

	if _, err := s.store.Finalize(ctx, evt.OrderID); err != nil {
		return fmt.Errorf("finalize reservation %s: %w", evt.OrderID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, cause saga.Envelope, eventType string, payload any) error {
	env, err := cause.Follow(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

const group = "inventory"

// Register subscribes the inventory participant's handlers.
func (s *Service) Register(sub bus.Subscriber) error {
	if err := sub.Subscribe(saga.TopicOrderCreated, group, s.HandleOrderCreated); err != nil {
		return err
	}
	if err := sub.Subscribe(saga.TopicPaymentFailed, group, s.HandlePaymentFailed); err != nil {
		return err
	}
	return sub.Subscribe(saga.TopicPaymentSucceeded, group, s.HandlePaymentSucceeded)
}
