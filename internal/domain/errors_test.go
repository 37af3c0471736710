package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *StockError
		want string
	}{
		{
			name: "insufficient quantity",
			err:  &StockError{ProductID: "P1", Requested: 5, Available: 2},
			want: "Only 2 available, but 5 requested",
		},
		{
			name: "unavailable product uses its name",
			err:  &StockError{ProductID: "P1", ProductName: "Lamp", Unavailable: true},
			want: "Lamp is no longer available",
		},
		{
			name: "unavailable product without a name",
			err:  &StockError{ProductID: "P1", Unavailable: true},
			want: "P1 is no longer available",
		},
		{
			name: "rejected checkout reports the first violation",
			err: &StockError{Violations: []Violation{
				{Message: "Lamp: Only 1 available, but 3 requested"},
				{Message: "Mug is no longer available"},
			}},
			want: "Lamp: Only 1 available, but 3 requested (and 1 more)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPartialCheckoutError_Error(t *testing.T) {
	err := &PartialCheckoutError{
		Succeeded: 2,
		Failures:  []LineFailure{{ProductID: "P3", Quantity: 1, Reason: "insufficient stock"}},
	}

	assert.Equal(t, "2 of 3 orders placed; not placed: P3 x1 (insufficient stock)", err.Error())
}

func TestIsRetryable(t *testing.T) {
	gwErr := &GatewayError{Op: "create order", Err: context.DeadlineExceeded}

	assert.True(t, IsRetryable(gwErr))
	assert.True(t, IsRetryable(fmt.Errorf("checkout: %w", gwErr)))
	assert.True(t, errors.Is(gwErr, context.DeadlineExceeded))
	assert.False(t, IsRetryable(&ValidationError{Message: "bad"}))
	assert.False(t, IsRetryable(&StockError{}))
}

func TestCheckoutResult_Err(t *testing.T) {
	t.Run("success has no error", func(t *testing.T) {
		assert.NoError(t, (&CheckoutResult{Status: CheckoutSuccess}).Err())
	})

	t.Run("empty cart is a validation error", func(t *testing.T) {
		var vErr *ValidationError
		require.ErrorAs(t, (&CheckoutResult{Status: CheckoutEmptyCart}).Err(), &vErr)
		assert.Equal(t, "Your cart is empty. Add some products before checkout.", vErr.Message)
	})

	t.Run("stock rejection carries violations", func(t *testing.T) {
		violations := []Violation{{ProductID: "P1", Message: "P1 is no longer available"}}
		var sErr *StockError
		require.ErrorAs(t, (&CheckoutResult{Status: CheckoutStockRejected, Violations: violations}).Err(), &sErr)
		assert.Equal(t, violations, sErr.Violations)
	})

	t.Run("all orders failed is retryable", func(t *testing.T) {
		err := (&CheckoutResult{Status: CheckoutAllOrdersFailed}).Err()
		assert.True(t, IsRetryable(err))
		assert.ErrorIs(t, err, ErrAllOrdersFailed)
	})

	t.Run("partial failure reports counts", func(t *testing.T) {
		var pErr *PartialCheckoutError
		result := &CheckoutResult{
			Status:   CheckoutPartialFailure,
			Orders:   []Order{{ID: "O1"}},
			Failures: []LineFailure{{ProductID: "P2"}},
		}
		require.ErrorAs(t, result.Err(), &pErr)
		assert.Equal(t, 1, pErr.Succeeded)
		assert.Len(t, pErr.Failures, 1)
	})
}
