package memory

import (
	"context"
	"sync"

	"meridian/contexts/inventory/inventory-service/domain/entities"
	domainerrors "meridian/contexts/inventory/inventory-service/domain/errors"
	"meridian/internal/shared/events"
)

// StockStore is an in-memory stock repository for local runtime and tests.
type StockStore struct {
	mu           sync.Mutex
	levels       map[string]*entities.StockLevel
	reservations map[string]entities.Reservation
}

// NewStockStore seeds available quantities per SKU.
func NewStockStore(seed map[string]int) *StockStore {
	levels := make(map[string]*entities.StockLevel, len(seed))
	for sku, available := range seed {
		levels[sku] = &entities.StockLevel{SKU: sku, Available: available}
	}
	return &StockStore{
		levels:       levels,
		reservations: make(map[string]entities.Reservation),
	}
}

func (s *StockStore) Reserve(_ context.Context, orderID string, items []events.OrderItem) (entities.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reservations[orderID]; ok {
		return existing, nil
	}

	// All-or-nothing: check every line before touching stock.
	wanted := make(map[string]int, len(items))
	for _, item := range items {
		wanted[item.SKU] += item.Quantity
	}
	for sku, qty := range wanted {
		level, ok := s.levels[sku]
		if !ok || qty <= 0 || level.Available < qty {
			denied := entities.Reservation{
				OrderID: orderID,
				Items:   wanted,
				Reason:  domainerrors.ReasonInsufficientStock,
			}
			s.reservations[orderID] = denied
			return denied, nil
		}
	}

	for sku, qty := range wanted {
		level := s.levels[sku]
		level.Available -= qty
		level.Reserved += qty
	}
	granted := entities.Reservation{OrderID: orderID, Items: wanted, Granted: true}
	s.reservations[orderID] = granted
	return granted, nil
}

func (s *StockStore) Release(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[orderID]
	if !ok || !reservation.Granted {
		return false, nil
	}

	for sku, qty := range reservation.Items {
		if level, exists := s.levels[sku]; exists {
			level.Available += qty
			level.Reserved -= qty
		}
	}
	reservation.Granted = false
	reservation.Reason = "released"
	s.reservations[orderID] = reservation
	return true, nil
}

// Level is a test helper returning the current stock level for a SKU.
func (s *StockStore) Level(sku string) (entities.StockLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.levels[sku]
	if !ok {
		return entities.StockLevel{}, false
	}
	return *level, true
}
