package storefront

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-otel-demo/internal/cart"
	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const RoleAdmin = "admin"

var ErrNoCustomer = errors.New("sign in to use the cart")

// Customer is the caller identity established by the session layer.
type Customer struct {
	ID       string
	Name     string
	Username string
	Email    string
	Role     string
}

func (c Customer) eligible() bool {
	return c.ID != "" && c.Role != RoleAdmin
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

type StockChecker interface {
	Check(ctx context.Context, productID string, requested int) (*domain.Product, error)
}

type CheckoutRunner interface {
	Checkout(ctx context.Context, customer domain.Customer) (*domain.CheckoutResult, error)
}

type ItemView struct {
	domain.CartItem
	LineTotal      decimal.Decimal `json:"line_total"`
	Description    string          `json:"description,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	StockAvailable *int            `json:"stock_available,omitempty"`
}

type CartView struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	DisplayName string          `json:"display_name"`
	Items       []ItemView      `json:"items"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Service struct {
	carts    cart.Store
	products ProductCatalog
	stock    StockChecker
	checkout CheckoutRunner
	logger   *slog.Logger
}

func NewService(carts cart.Store, products ProductCatalog, stock StockChecker, checkout CheckoutRunner, logger *slog.Logger) *Service {
	return &Service{
		carts:    carts,
		products: products,
		stock:    stock,
		checkout: checkout,
		logger:   logger,
	}
}

func requireCustomer(c Customer) error {
	if c.Role == RoleAdmin {
		return &domain.ValidationError{Field: "role", Message: "Cart functionality is for customers only."}
	}
	if c.ID == "" {
		return ErrNoCustomer
	}
	return nil
}

// GetCart returns the customer's cart, creating it on first access. Lines are enriched
// with live product data when the product service answers; a failed lookup keeps the
// snapshot taken when the line was added.
func (s *Service) GetCart(ctx context.Context, customer Customer) (*CartView, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}

	c, err := s.carts.GetOrCreate(ctx, customer.ID, customer.Name)
	if err != nil {
		return nil, err
	}

	view := &CartView{
		ID:          c.ID,
		CustomerID:  c.CustomerID,
		DisplayName: c.DisplayName,
		Items:       make([]ItemView, 0, len(c.Items)),
		ItemCount:   c.ItemCount(),
		TotalAmount: c.Total(),
	}

	for _, item := range c.Items {
		iv := ItemView{CartItem: item, LineTotal: item.LineTotal()}

		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			s.logger.Warn("failed to enrich cart item", "error", err, "customer_id", customer.ID, "product_id", item.ProductID)
		} else {
			available := product.StockAvailable
			iv.Description = product.Description
			iv.ImageURL = product.ImageURL
			iv.StockAvailable = &available
		}

		view.Items = append(view.Items, iv)
	}

	return view, nil
}

// AddToCart adds quantity units of a product, merging into an existing line. The merged
// quantity must be available; name and price are snapshotted from the product.
func (s *Service) AddToCart(ctx context.Context, customer Customer, productID string, quantity int) (*domain.Cart, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}
	if productID == "" || quantity < 1 {
		return nil, &domain.ValidationError{Field: "quantity", Message: "Invalid product or quantity."}
	}

	current, err := s.carts.GetOrCreate(ctx, customer.ID, customer.Name)
	if err != nil {
		return nil, err
	}

	requested := quantity
	if existing, ok := current.Item(productID); ok {
		requested += existing.Quantity
	}

	product, err := s.stock.Check(ctx, productID, requested)
	if err != nil {
		return nil, err
	}

	// The cart may have changed since it was read; the store repeats the check under
	// its own lock.
	updated, err := s.carts.AddItemWithinStock(ctx, customer.ID, domain.CartItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    quantity,
	}, product.StockAvailable)
	if err != nil {
		return nil, err
	}

	s.logger.Info("item added to cart", "customer_id", customer.ID, "product_id", productID, "quantity", quantity)
	return updated, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, customer Customer, productID string, quantity int) (*domain.Cart, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, &domain.ValidationError{Field: "product_id", Message: "Invalid product or quantity."}
	}

	if _, err := s.carts.GetOrCreate(ctx, customer.ID, customer.Name); err != nil {
		return nil, err
	}

	if quantity > 0 {
		if _, err := s.stock.Check(ctx, productID, quantity); err != nil {
			return nil, err
		}
	}

	updated, err := s.carts.UpdateItemQuantity(ctx, customer.ID, productID, quantity)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cart quantity updated", "customer_id", customer.ID, "product_id", productID, "quantity", quantity)
	return updated, nil
}

func (s *Service) RemoveItem(ctx context.Context, customer Customer, productID string) (*domain.Cart, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}

	if _, err := s.carts.GetOrCreate(ctx, customer.ID, customer.Name); err != nil {
		return nil, err
	}

	updated, err := s.carts.RemoveItem(ctx, customer.ID, productID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("item removed from cart", "customer_id", customer.ID, "product_id", productID)
	return updated, nil
}

func (s *Service) ClearCart(ctx context.Context, customer Customer) (*domain.Cart, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}

	if _, err := s.carts.GetOrCreate(ctx, customer.ID, customer.Name); err != nil {
		return nil, err
	}

	cleared, err := s.carts.Clear(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cart cleared", "customer_id", customer.ID)
	return cleared, nil
}

func (s *Service) Checkout(ctx context.Context, customer Customer) (*domain.CheckoutResult, error) {
	if err := requireCustomer(customer); err != nil {
		return nil, err
	}

	return s.checkout.Checkout(ctx, domain.Customer{
		ID:       customer.ID,
		Name:     customer.Name,
		Username: customer.Username,
		Email:    customer.Email,
	})
}

// CartSummary is computed from the stored cart only. Callers who cannot own a cart,
// customers without one, and store failures all get zero values.
func (s *Service) CartSummary(ctx context.Context, customer Customer) domain.CartSummary {
	if !customer.eligible() {
		return domain.CartSummary{TotalAmount: decimal.Zero}
	}

	c, err := s.carts.Get(ctx, customer.ID)
	if err != nil {
		s.logger.Error("failed to load cart summary", "error", err, "customer_id", customer.ID)
		return domain.CartSummary{TotalAmount: decimal.Zero}
	}

	return c.Summary()
}
