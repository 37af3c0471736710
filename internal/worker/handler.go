// Package worker reacts to completed checkouts: it moves the created orders forward and
// tells the customer what happened.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
	"github.com/joao-fontenele/storefront-otel-demo/internal/messaging"
	"github.com/joao-fontenele/storefront-otel-demo/internal/remote"
)

type OrderStatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
}

type Notifier interface {
	Send(ctx context.Context, email Email) error
}

type CheckoutHandler struct {
	orders   OrderStatusUpdater
	notifier Notifier
	logger   *slog.Logger
}

func NewCheckoutHandler(orders OrderStatusUpdater, notifier Notifier, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		orders:   orders,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle processes one checkout event. Successful checkouts move their orders to
// Processing and get a confirmation; partial ones are left Submitted for follow-up and
// the customer is told which lines are missing.
func (h *CheckoutHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.CheckoutEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal checkout event: %w: %w", messaging.ErrDiscard, err)
	}

	h.logger.Info("processing checkout event",
		"checkout_id", event.CheckoutID,
		"customer_id", event.CustomerID,
		"status", event.Status,
		"orders", len(event.Orders),
	)

	switch event.Status {
	case domain.CheckoutSuccess:
		if err := h.advanceOrders(ctx, event); err != nil {
			return err
		}
		if err := h.notifier.Send(ctx, confirmationEmail(event)); err != nil {
			h.logger.Error("failed to send confirmation email", "error", err, "checkout_id", event.CheckoutID)
			return fmt.Errorf("send confirmation email: %w", err)
		}
	case domain.CheckoutPartialFailure:
		if err := h.notifier.Send(ctx, partialEmail(event)); err != nil {
			h.logger.Error("failed to send partial checkout email", "error", err, "checkout_id", event.CheckoutID)
			return fmt.Errorf("send partial checkout email: %w", err)
		}
	default:
		h.logger.Warn("ignoring checkout event", "checkout_id", event.CheckoutID, "status", event.Status)
		return nil
	}

	h.logger.Info("checkout processing complete", "checkout_id", event.CheckoutID)
	return nil
}

func (h *CheckoutHandler) advanceOrders(ctx context.Context, event domain.CheckoutEvent) error {
	for _, order := range event.Orders {
		if order.Status != "" && order.Status != domain.OrderStatusSubmitted {
			continue
		}

		_, err := h.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing)
		if errors.Is(err, remote.ErrNotFound) {
			h.logger.Warn("order vanished before processing", "order_id", order.ID, "checkout_id", event.CheckoutID)
			continue
		}
		if err != nil {
			h.logger.Error("failed to update order status", "error", err, "order_id", order.ID)
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}
	}
	return nil
}

func recipient(event domain.CheckoutEvent) string {
	if event.Email != "" {
		return event.Email
	}
	return event.CustomerID + "@example.com"
}

func greeting(event domain.CheckoutEvent) string {
	if event.CustomerName != "" {
		return "Hi " + event.CustomerName + ",\n\n"
	}
	return "Hi,\n\n"
}

func confirmationEmail(event domain.CheckoutEvent) Email {
	var b strings.Builder
	b.WriteString(greeting(event))
	fmt.Fprintf(&b, "Your checkout %s is confirmed.\n\n", event.CheckoutID)
	writeOrders(&b, event.Orders)
	fmt.Fprintf(&b, "\nTotal: $%s\n", event.OrderedAmount.StringFixed(2))

	return Email{
		To:      recipient(event),
		Subject: "Order Confirmation: " + event.CheckoutID,
		Body:    b.String(),
	}
}

func partialEmail(event domain.CheckoutEvent) Email {
	var b strings.Builder
	b.WriteString(greeting(event))
	fmt.Fprintf(&b, "Only part of checkout %s went through.\n\n", event.CheckoutID)
	writeOrders(&b, event.Orders)
	b.WriteString("\nThese items were not ordered and are still in your cart:\n")
	for _, f := range event.Failures {
		fmt.Fprintf(&b, "- %s x%d: %s\n", f.ProductName, f.Quantity, f.Reason)
	}

	return Email{
		To:      recipient(event),
		Subject: "Action Needed: " + event.CheckoutID,
		Body:    b.String(),
	}
}

func writeOrders(b *strings.Builder, orders []domain.Order) {
	for _, o := range orders {
		fmt.Fprintf(b, "- %s x%d ($%s) order %s\n", o.ProductName, o.Quantity, o.TotalPrice.StringFixed(2), o.ID)
	}
}
