package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"caravan/internal/bus"
	"caravan/internal/saga"
)

// Status is the lifecycle state of an order. PENDING is the only
// non-terminal state; once CONFIRMED or FAILED an order never changes.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Order is the orchestrator's record of one saga.
type Order struct {
	ID             string
	IdempotencyKey string
	SKU            string
	Quantity       int
	Amount         float64
	Status         Status
	Reason         string
	CreatedAt      time.Time
}

// Validation errors returned by CreateOrder before any state mutation.
var (
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrSKURequired            = errors.New("item sku required")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrInvalidAmount          = errors.New("amount must not be negative")
)

// ErrNotFound signals an unknown order id.
var ErrNotFound = errors.New("order not found")

// Store persists orders and the idempotency ledger. Create must bind
// the idempotency key and insert the order as one atomic step; two
// concurrent identical requests must not both observe "not found".
type Store interface {
	// Create inserts the order unless its idempotency key is already
	// bound, in which case the existing order is returned with false.
	Create(ctx context.Context, order Order) (Order, bool, error)
	// Get returns the order by id.
	Get(ctx context.Context, orderID string) (Order, error)
	// Finalize moves a PENDING order to a terminal status. It returns
	// false without error when the order is already terminal.
	Finalize(ctx context.Context, orderID string, status Status, reason string) (bool, error)
}

// CreateOrderRequest is the inbound create-order contract.
type CreateOrderRequest struct {
	SKU            string
	Quantity       int
	Amount         float64
	IdempotencyKey string
}

// Service is the order orchestrator: it starts sagas and finalizes
// orders from downstream terminal events.
type Service struct {
	store     Store
	publisher bus.Publisher
	newID     func() string
	logf      func(format string, args ...any)
}

// NewService constructs the orchestrator. newID may be nil to use UUIDs.
func NewService(store Store, publisher bus.Publisher, newID func() string, logf func(format string, args ...any)) *Service {
	if newID == nil {
		newID = uuid.NewString
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store:     store,
		publisher: publisher,
		newID:     newID,
		logf:      logf,
	}
}

// CreateOrder validates the request, applies the idempotency contract,
// and starts the saga by publishing order.created. A repeated call with
// a known key returns the stored order; if that order is still PENDING
// the start event is republished, which makes a lost first publish
// recoverable by retrying the request.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if err := validate(req); err != nil {
		return Order{}, err
	}

	order := Order{
		ID:             s.newID(),
		IdempotencyKey: req.IdempotencyKey,
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		Amount:         req.Amount,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	stored, created, err := s.store.Create(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	if created {
		s.logf("orders: created %s (sku=%s qty=%d amount=%.2f)", stored.ID, stored.SKU, stored.Quantity, stored.Amount)
	}

	if !created && stored.Status.Terminal() {
		return stored, nil
	}

	env, err := saga.NewEnvelope(saga.TopicOrderCreated, stored.ID, saga.OrderCreated{
		OrderID:  stored.ID,
		SKU:      stored.SKU,
		Quantity: stored.Quantity,
		Amount:   stored.Amount,
	})
	if err != nil {
		return stored, err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		// The order record exists; a retried request replays the event.
		return stored, fmt.Errorf("publish %s: %w", saga.TopicOrderCreated, err)
	}

	return stored, nil
}

// GetOrder returns the stored order; saga status is derived from it.
func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.store.Get(ctx, orderID)
}

// HandleStockRejected finalizes the order as FAILED.
func (s *Service) HandleStockRejected(ctx context.Context, env saga.Envelope) error {
	var evt saga.StockRejected
	if err := env.Decode(&evt); err != nil {
		return err
	}
	return s.finalize(ctx, evt.OrderID, StatusFailed, evt.Reason)
}

// HandlePaymentSucceeded finalizes the order as CONFIRMED.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, env saga.Envelope) error {
	var evt saga.PaymentSucceeded
	if err := env.Decode(&evt); err != nil {
		return err
	}
	return s.finalize(ctx, evt.OrderID, StatusConfirmed, "")
}

// HandlePaymentFailed finalizes the order as FAILED. Stock compensation
// is the inventory participant's business, not the orchestrator's.
func (s *Service) HandlePaymentFailed(ctx context.Context, env saga.Envelope) error {
	var evt saga.PaymentFailed
	if err := env.Decode(&evt); err != nil {
		return err
	}
	return s.finalize(ctx, evt.OrderID, StatusFailed, evt.Reason)
}

func (s *Service) finalize(ctx context.Context, orderID string, status Status, reason string) error {
	changed, err := s.store.Finalize(ctx, orderID, status, reason)
	if errors.Is(err, ErrNotFound) {
		// An event for an order this ledger never created; redelivery
		// would never help, so drop it.
		s.logf("orders: ignoring terminal event for unknown order %s", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize order %s: %w", orderID, err)
	}
	if changed {
		s.logf("orders: %s finalized as %s", orderID, status)
	}
	return nil
}

const group = "orders"

// Register subscribes the orchestrator's terminal-event handlers.
func (s *Service) Register(sub bus.Subscriber) error {
	if err := sub.Subscribe(saga.TopicStockRejected, group, s.HandleStockRejected); err != nil {
		return err
	}
	if err := sub.Subscribe(saga.TopicPaymentSucceeded, group, s.HandlePaymentSucceeded); err != nil {
		return err
	}
	return sub.Subscribe(saga.TopicPaymentFailed, group, s.HandlePaymentFailed)
}

func validate(req CreateOrderRequest) error {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(req.SKU) == "" {
		return ErrSKURequired
	}
	if req.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if req.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}
