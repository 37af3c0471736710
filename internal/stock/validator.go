// Package stock checks cart lines against live product availability.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
	"github.com/joao-fontenele/storefront-otel-demo/internal/remote"
)

type ProductSource interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

type Validator struct {
	products ProductSource
	logger   *slog.Logger
}

func NewValidator(products ProductSource, logger *slog.Logger) *Validator {
	return &Validator{
		products: products,
		logger:   logger,
	}
}

// Validate looks up every distinct product in the cart, one call per product, and
// reports the lines that cannot be fulfilled in cart order. A failed lookup becomes a
// violation for that line only. An empty result means checkout may proceed.
func (v *Validator) Validate(ctx context.Context, cart *domain.Cart) []domain.Violation {
	if cart == nil {
		return nil
	}

	var violations []domain.Violation
	requested := make(map[string]int, len(cart.Items))
	order := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if _, seen := requested[item.ProductID]; !seen {
			order = append(order, item)
		}
		requested[item.ProductID] += item.Quantity
	}

	for _, item := range order {
		qty := requested[item.ProductID]

		product, err := v.products.GetProduct(ctx, item.ProductID)
		switch {
		case errors.Is(err, remote.ErrNotFound):
			violations = append(violations, domain.Violation{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Reason:      domain.ViolationProductUnavailable,
				Requested:   qty,
				Message:     domain.UnavailableMessage(item.ProductName, item.ProductID),
			})
		case err != nil:
			v.logger.Warn("stock lookup failed", "error", err, "product_id", item.ProductID)
			violations = append(violations, domain.Violation{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Reason:      domain.ViolationLookupFailed,
				Requested:   qty,
				Message:     fmt.Sprintf("Could not check availability of %s, please try again", displayName(item.ProductName, item.ProductID)),
			})
		case product.StockAvailable < qty:
			violations = append(violations, domain.Violation{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Reason:      domain.ViolationInsufficientStock,
				Requested:   qty,
				Available:   max(product.StockAvailable, 0),
				Message: fmt.Sprintf("%s: %s", displayName(item.ProductName, item.ProductID),
					domain.InsufficientStockMessage(max(product.StockAvailable, 0), qty)),
			})
		}
	}

	return violations
}

// Check verifies a single product can supply the requested quantity and returns it so
// callers can snapshot its name and price.
func (v *Validator) Check(ctx context.Context, productID string, requested int) (*domain.Product, error) {
	product, err := v.products.GetProduct(ctx, productID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "product", ID: productID}
	}
	if err != nil {
		return nil, err
	}

	if product.StockAvailable < requested {
		return product, &domain.StockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   requested,
			Available:   max(product.StockAvailable, 0),
		}
	}

	return product, nil
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}
