package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"caravan/internal/bus"
	"caravan/internal/saga"
)

// Decision is the outcome of a payment authorization.
type Decision string

const (
	DecisionAuthorized Decision = "AUTHORIZED"
	DecisionDeclined   Decision = "DECLINED"
)

// Transaction is the append-only record of one authorization attempt.
// Exactly one exists per order id.
type Transaction struct {
	OrderID   string
	Amount    float64
	Decision  Decision
	Reason    string
	CreatedAt time.Time
}

// ErrTransactionNotFound signals no record exists for the order.
var ErrTransactionNotFound = errors.New("transaction not found")

// Store persists transaction records. Record must be idempotent on order
// id: a duplicate write returns the stored record with false and leaves
// the ledger untouched.
type Store interface {
	Record(ctx context.Context, tx Transaction) (Transaction, bool, error)
	Get(ctx context.Context, orderID string) (Transaction, error)
}

// Authorizer is the external payment decision function. It must be
// deterministic for a given amount; the rule itself is not this
// service's concern.
type Authorizer interface {
	Authorize(ctx context.Context, amount float64) (Decision, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, amount float64) (Decision, error)

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, amount float64) (Decision, error) {
	return f(ctx, amount)
}

// DefaultDeclineThreshold mirrors the mock rule the system was built
// against: amounts at or above it are declined.
const DefaultDeclineThreshold = 1000.0

// ThresholdAuthorizer declines amounts at or above limit.
func ThresholdAuthorizer(limit float64) AuthorizerFunc {
	return func(_ context.Context, amount float64) (Decision, error) {
		if amount >= limit {
			return DecisionDeclined, nil
		}
		return DecisionAuthorized, nil
	}
}

// Service is the payment participant.
type Service struct {
	store      Store
	authorizer Authorizer
	publisher  bus.Publisher
	logf       func(format string, args ...any)
}

// NewService constructs the payment participant.
func NewService(store Store, authorizer Authorizer, publisher bus.Publisher, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store:      store,
		authorizer: authorizer,
		publisher:  publisher,
		logf:       logf,
	}
}

// HandleStockReserved authorizes payment for the order. An existing
// record short-circuits the decision and republishes its terminal event;
// otherwise the decision is persisted before anything is published, so a
// crash between the two leaves a record that the redelivered event will
// replay from.
func (s *Service) HandleStockReserved(ctx context.Context, env saga.Envelope) error {
	var evt saga.StockReserved
	if err := env.Decode(&evt); err != nil {
		return err
	}

	existing, err := s.store.Get(ctx, evt.OrderID)
	if err == nil {
		return s.publishOutcome(ctx, env, existing)
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return fmt.Errorf("lookup transaction %s: %w", evt.OrderID, err)
	}

	decision, err := s.authorizer.Authorize(ctx, evt.Amount)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", evt.OrderID, err)
	}

	tx := Transaction{
		OrderID:   evt.OrderID,
		Amount:    evt.Amount,
		Decision:  decision,
		CreatedAt: time.Now().UTC(),
	}
	if decision == DecisionDeclined {
		tx.Reason = saga.ReasonPaymentDeclined
	}

	stored, created, err := s.store.Record(ctx, tx)
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", evt.OrderID, err)
	}
	if created {
		s.logf("payments: %s %s (amount=%.2f)", stored.OrderID, stored.Decision, stored.Amount)
	}

	// A concurrent duplicate may have won the insert; either way the
	// stored record is the truth to publish from.
	return s.publishOutcome(ctx, env, stored)
}

func (s *Service) publishOutcome(ctx context.Context, cause saga.Envelope, tx Transaction) error {
	var (
		topic   string
		payload any
	)
	switch tx.Decision {
	case DecisionAuthorized:
		topic = saga.TopicPaymentSucceeded
		payload = saga.PaymentSucceeded{OrderID: tx.OrderID}
	case DecisionDeclined:
		topic = saga.TopicPaymentFailed
		payload = saga.PaymentFailed{OrderID: tx.OrderID, Reason: tx.Reason}
	default:
		return fmt.Errorf("transaction %s has unknown decision %q", tx.OrderID, tx.Decision)
	}

	env, err := cause.Follow(topic, payload)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

const group = "payments"

// Register subscribes the payment participant's handler.
func (s *Service) Register(sub bus.Subscriber) error {
	return sub.Subscribe(saga.TopicStockReserved, group, s.HandleStockReserved)
}
