package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product, Customer and Order mirror the remote service payloads, which use camelCase.

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"productName"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	StockAvailable int             `json:"stockAvailable"`
	ImageURL       string          `json:"imageUrl"`
}

type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Surname         string `json:"surname"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	ShippingAddress string `json:"shippingAddress"`
}

type OrderStatus string

const (
	OrderStatusSubmitted  OrderStatus = "Submitted"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusSubmitted, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Username    string          `json:"username,omitempty"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Status      OrderStatus     `json:"status"`
	OrderDate   time.Time       `json:"orderDate"`
}
