package inventory

import (
	"context"
	"sync"
)

// NewInMemoryStore constructs an in-memory stock and reservation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		stock:        make(map[string]int),
		reservations: make(map[string]Reservation),
	}
}

// InMemoryStore keeps stock levels and reservations in memory. A single
// mutex covers both maps, which trivially serializes per-SKU mutations;
// the Postgres store gets the same guarantee from row locks instead.
type InMemoryStore struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]Reservation
}

// SetStock sets the available quantity for a SKU (seeding and tests).
func (s *InMemoryStore) SetStock(sku string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[sku] = quantity
}

// Reserve checks the reservation ledger, then conditionally decrements
// stock and records the reservation, all under one critical section.
func (s *InMemoryStore) Reserve(_ context.Context, r Reservation) (Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reservations[r.OrderID]; ok {
		return existing, false, nil
	}

	available, ok := s.stock[r.SKU]
	if !ok || available < r.Quantity {
		return Reservation{}, false, ErrInsufficientStock
	}

	s.stock[r.SKU] = available - r.Quantity
	s.reservations[r.OrderID] = r
	return r, true, nil
}

// Compensate restores the reserved quantity once.
func (s *InMemoryStore) Compensate(_ context.Context, orderID string) (Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[orderID]
	if !ok || res.State != ReservationReserved {
		return res, false, nil
	}

	res.State = ReservationCompensated
	s.reservations[orderID] = res
	s.stock[res.SKU] += res.Quantity
	return res, true, nil
}

// Finalize marks the reservation permanent.
func (s *InMemoryStore) Finalize(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[orderID]
	if !ok || res.State != ReservationReserved {
		return false, nil
	}

	res.State = ReservationFinalized
	s.reservations[orderID] = res
	return true, nil
}

// Available returns the current stock level; unknown SKUs report zero.
func (s *InMemoryStore) Available(_ context.Context, sku string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[sku], nil
}

// ReservationFor returns the stored reservation (for inspection in tests).
func (s *InMemoryStore) ReservationFor(orderID string) (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[orderID]
	return res, ok
}
