package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutEvent struct {
	CheckoutID    string          `json:"checkout_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Email         string          `json:"email,omitempty"`
	Status        CheckoutStatus  `json:"status"`
	Orders        []Order         `json:"orders"`
	Failures      []LineFailure   `json:"failures"`
	OrderedAmount decimal.Decimal `json:"ordered_amount"`
	Timestamp     time.Time       `json:"timestamp"`
}
