package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrAllOrdersFailed = errors.New("no order could be created")

// ValidationError rejects caller input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StockError describes either a single line check (ProductID set) or a rejected
// checkout (Violations set).
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
	Unavailable bool
	Violations  []Violation
}

func (e *StockError) Error() string {
	if len(e.Violations) > 0 {
		msg := e.Violations[0].Message
		if n := len(e.Violations) - 1; n > 0 {
			msg = fmt.Sprintf("%s (and %d more)", msg, n)
		}
		return msg
	}
	if e.Unavailable {
		return UnavailableMessage(e.ProductName, e.ProductID)
	}
	return InsufficientStockMessage(e.Available, e.Requested)
}

func InsufficientStockMessage(available, requested int) string {
	return fmt.Sprintf("Only %d available, but %d requested", available, requested)
}

func UnavailableMessage(name, id string) string {
	if name == "" {
		name = id
	}
	return fmt.Sprintf("%s is no longer available", name)
}

// GatewayError is a failed call to the remote product/order/customer service. It is
// always worth retrying: the request was valid but the remote side did not answer it.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
	Failures   []LineFailure
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote service returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type PartialCheckoutError struct {
	Succeeded int
	Failures  []LineFailure
}

func (e *PartialCheckoutError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		name := f.ProductName
		if name == "" {
			name = f.ProductID
		}
		parts = append(parts, fmt.Sprintf("%s x%d (%s)", name, f.Quantity, f.Reason))
	}
	return fmt.Sprintf("%d of %d orders placed; not placed: %s",
		e.Succeeded, e.Succeeded+len(e.Failures), strings.Join(parts, ", "))
}

// IsRetryable reports whether err belongs to the "try again" class.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
