package cart

import (
	"context"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

type memoryEntry struct {
	mu   sync.Mutex
	cart *domain.Cart
}

// MemoryStore keeps carts in process, the equivalent of a session-keyed cart.
// Each customer has its own lock, so different customers never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) entry(customerID string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[customerID]
	if !ok {
		e = &memoryEntry{}
		s.entries[customerID] = e
	}
	return e
}

func (s *MemoryStore) Get(_ context.Context, customerID string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	e := s.entry(customerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cart == nil || !e.cart.Active {
		return nil, nil
	}
	return e.cart.Clone(), nil
}

func (s *MemoryStore) GetOrCreate(_ context.Context, customerID, displayName string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	e := s.entry(customerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cart == nil || !e.cart.Active {
		e.cart = newCart(customerID, displayName, s.now())
	}
	return e.cart.Clone(), nil
}

func (s *MemoryStore) AddItem(_ context.Context, customerID string, item domain.CartItem) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}
	return s.mutate(customerID, true, func(c *domain.Cart, now time.Time) error {
		mergeItem(c, item, now)
		return nil
	})
}

func (s *MemoryStore) AddItemWithinStock(_ context.Context, customerID string, item domain.CartItem, available int) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}
	return s.mutate(customerID, true, func(c *domain.Cart, now time.Time) error {
		if err := withinStock(c, item, available); err != nil {
			return err
		}
		mergeItem(c, item, now)
		return nil
	})
}

func (s *MemoryStore) UpdateItemQuantity(_ context.Context, customerID, productID string, quantity int) (*domain.Cart, error) {
	return s.mutate(customerID, false, func(c *domain.Cart, now time.Time) error {
		if !setQuantity(c, productID, quantity, now) {
			return lineNotFound(productID)
		}
		return nil
	})
}

func (s *MemoryStore) RemoveItem(_ context.Context, customerID, productID string) (*domain.Cart, error) {
	return s.mutate(customerID, false, func(c *domain.Cart, now time.Time) error {
		removeLine(c, productID, now)
		return nil
	})
}

func (s *MemoryStore) Clear(_ context.Context, customerID string) (*domain.Cart, error) {
	return s.mutate(customerID, false, func(c *domain.Cart, now time.Time) error {
		c.Items = []domain.CartItem{}
		c.LastUpdated = now
		return nil
	})
}

func (s *MemoryStore) RemoveOrdered(_ context.Context, customerID string, ordered map[string]int) (*domain.Cart, error) {
	return s.mutate(customerID, false, func(c *domain.Cart, now time.Time) error {
		subtractOrdered(c, ordered, now)
		return nil
	})
}

// mutate applies fn to a working copy under the customer's lock and publishes the
// copy only when fn succeeds.
func (s *MemoryStore) mutate(customerID string, create bool, fn func(*domain.Cart, time.Time) error) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	e := s.entry(customerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.cart == nil {
		if !create {
			return nil, cartNotFound(customerID)
		}
		e.cart = newCart(customerID, "", now)
	}
	if !e.cart.Active {
		return nil, inactive()
	}

	working := e.cart.Clone()
	if err := fn(working, now); err != nil {
		return nil, err
	}
	e.cart = working
	return working.Clone(), nil
}
