// Package cart owns the lifecycle of customer carts and their lines.
//
// Every backing serializes mutations per customer: a read-modify-write such as the
// quantity merge in AddItem never interleaves with another mutation of the same cart.
package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

var ErrConcurrentUpdate = errors.New("cart was modified concurrently")

type Store interface {
	// Get returns the active cart, or nil when the customer has none.
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	GetOrCreate(ctx context.Context, customerID, displayName string) (*domain.Cart, error)
	AddItem(ctx context.Context, customerID string, item domain.CartItem) (*domain.Cart, error)
	// AddItemWithinStock merges item like AddItem but fails with a *domain.StockError,
	// leaving the cart untouched, when the merged quantity would exceed available.
	AddItemWithinStock(ctx context.Context, customerID string, item domain.CartItem, available int) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, customerID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error)
	Clear(ctx context.Context, customerID string) (*domain.Cart, error)
	// RemoveOrdered subtracts ordered quantities, keyed by product id, and drops lines
	// that reach zero. Lines added after the order snapshot stay in the cart.
	RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) (*domain.Cart, error)
}

func newCart(customerID, displayName string, now time.Time) *domain.Cart {
	return &domain.Cart{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		DisplayName: displayName,
		CreatedAt:   now,
		LastUpdated: now,
		Active:      true,
		Items:       []domain.CartItem{},
	}
}

func validateCustomer(customerID string) error {
	if customerID == "" {
		return &domain.ValidationError{Field: "customer_id", Message: "customer id is required"}
	}
	return nil
}

func validateNewItem(item domain.CartItem) error {
	if item.ProductID == "" {
		return &domain.ValidationError{Field: "product_id", Message: "Invalid product or quantity."}
	}
	if item.Quantity < 1 {
		return &domain.ValidationError{Field: "quantity", Message: "Invalid product or quantity."}
	}
	if item.UnitPrice.IsNegative() {
		return &domain.ValidationError{Field: "unit_price", Message: "unit price cannot be negative"}
	}
	return nil
}

func cartNotFound(customerID string) error {
	return &domain.NotFoundError{Resource: "cart for customer", ID: customerID}
}

func inactive() error {
	return &domain.ValidationError{Field: "cart", Message: "cart is no longer active"}
}

// The helpers below implement the line semantics shared by the in-process backings.

func mergeItem(c *domain.Cart, item domain.CartItem, now time.Time) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			c.LastUpdated = now
			return
		}
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.AddedAt = now
	c.Items = append(c.Items, item)
	c.LastUpdated = now
}

// setQuantity reports false when the line does not exist.
func setQuantity(c *domain.Cart, productID string, quantity int, now time.Time) bool {
	if quantity <= 0 {
		removeLine(c, productID, now)
		return true
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			c.LastUpdated = now
			return true
		}
	}
	return false
}

func removeLine(c *domain.Cart, productID string, now time.Time) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	c.Items = kept
	c.LastUpdated = now
}

func withinStock(c *domain.Cart, item domain.CartItem, available int) error {
	merged := item.Quantity
	if existing, ok := c.Item(item.ProductID); ok {
		merged += existing.Quantity
	}
	if merged > available {
		return &domain.StockError{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Requested:   merged,
			Available:   available,
		}
	}
	return nil
}

func subtractOrdered(c *domain.Cart, ordered map[string]int, now time.Time) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		item.Quantity -= ordered[item.ProductID]
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	c.Items = kept
	c.LastUpdated = now
}

func lineNotFound(productID string) error {
	return &domain.NotFoundError{Resource: "cart item", ID: productID}
}
