package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutStatus string

const (
	CheckoutSuccess         CheckoutStatus = "success"
	CheckoutEmptyCart       CheckoutStatus = "empty_cart"
	CheckoutStockRejected   CheckoutStatus = "stock_rejected"
	CheckoutAllOrdersFailed CheckoutStatus = "all_orders_failed"
	CheckoutPartialFailure  CheckoutStatus = "partial_failure"
)

type ViolationReason string

const (
	ViolationProductUnavailable ViolationReason = "product_unavailable"
	ViolationInsufficientStock  ViolationReason = "insufficient_stock"
	ViolationLookupFailed       ViolationReason = "lookup_failed"
)

// Violation is one cart line that failed the pre-checkout stock check.
type Violation struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Reason      ViolationReason `json:"reason"`
	Requested   int             `json:"requested"`
	Available   int             `json:"available"`
	Message     string          `json:"message"`
}

// LineFailure is a cart line whose order could not be created.
type LineFailure struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
	Retryable   bool   `json:"retryable"`
}

type CheckoutResult struct {
	CheckoutID  string         `json:"checkout_id"`
	CustomerID  string         `json:"customer_id"`
	Status      CheckoutStatus `json:"status"`
	Orders      []Order        `json:"orders"`
	Failures    []LineFailure  `json:"failures"`
	Violations  []Violation    `json:"violations,omitempty"`
	CartCleared bool           `json:"cart_cleared"`
	Cart        *Cart          `json:"cart"`
	CompletedAt time.Time      `json:"completed_at"`
}

func (r *CheckoutResult) OrderedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Orders {
		total = total.Add(o.TotalPrice)
	}
	return total
}

// Err maps a non-successful outcome onto the error taxonomy. It returns nil on success.
func (r *CheckoutResult) Err() error {
	switch r.Status {
	case CheckoutSuccess:
		return nil
	case CheckoutEmptyCart:
		return &ValidationError{Field: "cart", Message: "Your cart is empty. Add some products before checkout."}
	case CheckoutStockRejected:
		return &StockError{Violations: r.Violations}
	case CheckoutAllOrdersFailed:
		return &GatewayError{Op: "create orders", Err: ErrAllOrdersFailed, Failures: r.Failures}
	case CheckoutPartialFailure:
		return &PartialCheckoutError{Succeeded: len(r.Orders), Failures: r.Failures}
	}
	return nil
}
