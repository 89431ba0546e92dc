package payments

import (
	"context"
	"sync"
)

// NewInMemoryStore constructs an in-memory transaction store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byOrder: make(map[string]Transaction),
	}
}

// InMemoryStore keeps the transaction ledger in memory.
type InMemoryStore struct {
	mu      sync.Mutex
	byOrder map[string]Transaction
}

// Record appends the transaction unless one already exists for the order,
// in which case the stored record is returned with false.
func (s *InMemoryStore) Record(_ context.Context, tx Transaction) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byOrder[tx.OrderID]; ok {
		return existing, false, nil
	}
	s.byOrder[tx.OrderID] = tx
	return tx, true, nil
}

// Get returns the transaction for the order.
func (s *InMemoryStore) Get(_ context.Context, orderID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byOrder[orderID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}
