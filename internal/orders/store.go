package orders

import (
	"context"
	"sync"
)

// NewInMemoryStore constructs an in-memory order store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]Order),
		byKey: make(map[string]string),
	}
}

// InMemoryStore keeps orders and the idempotency ledger in memory.
type InMemoryStore struct {
	mu    sync.Mutex
	byID  map[string]Order
	byKey map[string]string
}

// Create inserts the order or returns the one already bound to its
// idempotency key. The check and the insert happen under one lock, so
// concurrent identical requests serialize.
func (s *InMemoryStore) Create(_ context.Context, order Order) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[order.IdempotencyKey]; ok {
		return s.byID[id], false, nil
	}

	s.byKey[order.IdempotencyKey] = order.ID
	s.byID[order.ID] = order
	return order, true, nil
}

// Get returns the order by id.
func (s *InMemoryStore) Get(_ context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.byID[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

// Finalize moves a PENDING order to a terminal status; it reports false
// when the order is already terminal.
func (s *InMemoryStore) Finalize(_ context.Context, orderID string, status Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.byID[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if order.Status.Terminal() {
		return false, nil
	}

	order.Status = status
	order.Reason = reason
	s.byID[orderID] = order
	return true, nil
}
