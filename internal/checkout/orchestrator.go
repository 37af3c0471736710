// Package checkout turns a customer's cart into remote orders.
//
// An attempt moves through validate, stock check, order creation and resolve. Nothing is
// created when the cart is empty or any line fails the stock check, every line is
// attempted once orders are being created, and the ordered lines leave the cart only when
// every line produced an order.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const Topic = "checkout.completed"

var errEmptyOrder = errors.New("order service returned no order")

var (
	tracer = otel.Tracer("checkout")
	meter  = otel.Meter("checkout")
)

type CartStore interface {
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) (*domain.Cart, error)
}

type StockValidator interface {
	Validate(ctx context.Context, cart *domain.Cart) []domain.Violation
}

type OrderGateway interface {
	CreateOrder(ctx context.Context, customerID, productID string, quantity int) (*domain.Order, error)
}

// CustomerResolver maps a storefront customer onto the id the order service knows.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, customer domain.Customer) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Orchestrator struct {
	carts       CartStore
	validator   StockValidator
	orders      OrderGateway
	resolver    CustomerResolver
	publisher   EventPublisher
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	attempts metric.Int64Counter
	lines    metric.Int64Counter
	duration metric.Float64Histogram
}

type Option func(*Orchestrator)

// WithConcurrency sets how many order calls may be in flight at once. 1 keeps them
// sequential.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithCustomerResolver(r CustomerResolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func NewOrchestrator(carts CartStore, validator StockValidator, orders OrderGateway, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		carts:       carts,
		validator:   validator,
		orders:      orders,
		concurrency: 1,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	o.attempts, err = meter.Int64Counter("storefront.checkout.attempts",
		metric.WithDescription("Checkout attempts by terminal status"))
	if err != nil {
		return nil, err
	}
	o.lines, err = meter.Int64Counter("storefront.checkout.lines",
		metric.WithDescription("Order lines dispatched during checkout by result"))
	if err != nil {
		return nil, err
	}
	o.duration, err = meter.Float64Histogram("storefront.checkout.duration",
		metric.WithDescription("Checkout attempt duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return o, nil
}

type lineOutcome struct {
	order *domain.Order
	err   error
}

// Checkout runs one attempt for the customer's active cart. Business outcomes are
// reported through the result status; the returned error is reserved for failures that
// stop the attempt before any order was dispatched (cart store errors, customer
// resolution, caller cancellation).
func (o *Orchestrator) Checkout(ctx context.Context, customer domain.Customer) (*domain.CheckoutResult, error) {
	start := time.Now()
	checkoutID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "checkout",
		trace.WithAttributes(
			attribute.String("checkout.id", checkoutID),
			attribute.String("customer.id", customer.ID),
		),
	)
	defer span.End()

	result, err := o.run(ctx, checkoutID, customer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("checkout.status", string(result.Status)),
		attribute.Int("checkout.orders", len(result.Orders)),
		attribute.Int("checkout.failures", len(result.Failures)),
	)
	if result.Status != domain.CheckoutSuccess {
		span.SetStatus(codes.Error, string(result.Status))
	}

	statusAttr := metric.WithAttributes(attribute.String("status", string(result.Status)))
	o.attempts.Add(ctx, 1, statusAttr)
	o.duration.Record(ctx, time.Since(start).Seconds(), statusAttr)

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, checkoutID string, customer domain.Customer) (*domain.CheckoutResult, error) {
	result := &domain.CheckoutResult{
		CheckoutID: checkoutID,
		CustomerID: customer.ID,
		Orders:     []domain.Order{},
		Failures:   []domain.LineFailure{},
	}

	cart, err := o.carts.Get(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if cart == nil || cart.IsEmpty() {
		result.Status = domain.CheckoutEmptyCart
		result.Cart = cart
		result.CompletedAt = o.now()
		return result, nil
	}
	result.Cart = cart

	if violations := o.validator.Validate(ctx, cart); len(violations) > 0 {
		o.logger.Info("checkout rejected by stock check", "checkout_id", checkoutID, "customer_id", customer.ID, "violations", len(violations))
		result.Status = domain.CheckoutStockRejected
		result.Violations = violations
		result.CompletedAt = o.now()
		return result, nil
	}

	orderCustomerID := customer.ID
	if o.resolver != nil {
		orderCustomerID, err = o.resolver.ResolveCustomer(ctx, customer)
		if err != nil {
			o.logger.Error("failed to resolve customer", "error", err, "customer_id", customer.ID)
			return nil, err
		}
	}

	// Past this point remote orders get created; the caller going away must not stop
	// the attempt from reaching a decision about the cart.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dispatchCtx := context.WithoutCancel(ctx)

	outcomes := o.dispatch(dispatchCtx, orderCustomerID, cart.Items)

	for i, item := range cart.Items {
		outcome := outcomes[i]
		if outcome.err != nil {
			o.logger.Warn("order line failed", "checkout_id", checkoutID, "product_id", item.ProductID, "quantity", item.Quantity, "error", outcome.err)
			result.Failures = append(result.Failures, domain.LineFailure{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				Reason:      outcome.err.Error(),
				Retryable:   domain.IsRetryable(outcome.err),
			})
			o.lines.Add(dispatchCtx, 1, metric.WithAttributes(attribute.String("result", "failed")))
			continue
		}
		result.Orders = append(result.Orders, *outcome.order)
		o.lines.Add(dispatchCtx, 1, metric.WithAttributes(attribute.String("result", "created")))
	}

	switch {
	case len(result.Orders) == 0:
		result.Status = domain.CheckoutAllOrdersFailed
	case len(result.Failures) > 0:
		result.Status = domain.CheckoutPartialFailure
	default:
		result.Status = domain.CheckoutSuccess
		// Only the snapshot that was ordered is removed; lines added meanwhile stay.
		remaining, err := o.carts.RemoveOrdered(dispatchCtx, customer.ID, orderedQuantities(cart.Items))
		if err != nil {
			o.logger.Error("failed to remove ordered lines from cart", "error", err, "checkout_id", checkoutID, "customer_id", customer.ID)
		} else {
			result.Cart = remaining
			result.CartCleared = true
		}
	}
	result.CompletedAt = o.now()

	o.logger.Info("checkout resolved",
		"checkout_id", checkoutID,
		"customer_id", customer.ID,
		"status", result.Status,
		"orders", len(result.Orders),
		"failures", len(result.Failures),
	)

	if len(result.Orders) > 0 {
		o.publish(dispatchCtx, customer, result)
	}

	return result, nil
}

func orderedQuantities(items []domain.CartItem) map[string]int {
	ordered := make(map[string]int, len(items))
	for _, item := range items {
		ordered[item.ProductID] += item.Quantity
	}
	return ordered
}

// dispatch issues one order call per line and waits for all of them. Outcomes are
// indexed by line so completion order does not matter.
func (o *Orchestrator) dispatch(ctx context.Context, customerID string, items []domain.CartItem) []lineOutcome {
	outcomes := make([]lineOutcome, len(items))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, item := range items {
		g.Go(func() error {
			lineCtx, span := tracer.Start(ctx, "checkout.create_order",
				trace.WithAttributes(
					attribute.String("product.id", item.ProductID),
					attribute.Int("quantity", item.Quantity),
				),
			)
			defer span.End()

			order, err := o.orders.CreateOrder(lineCtx, customerID, item.ProductID, item.Quantity)
			if err == nil && order == nil {
				err = &domain.GatewayError{Op: "create order", Err: errEmptyOrder}
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			outcomes[i] = lineOutcome{order: order, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (o *Orchestrator) publish(ctx context.Context, customer domain.Customer, result *domain.CheckoutResult) {
	if o.publisher == nil {
		return
	}

	event := domain.CheckoutEvent{
		CheckoutID:    result.CheckoutID,
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Email:         customer.Email,
		Status:        result.Status,
		Orders:        result.Orders,
		Failures:      result.Failures,
		OrderedAmount: result.OrderedTotal(),
		Timestamp:     result.CompletedAt,
	}
	if err := o.publisher.Publish(ctx, customer.ID, event); err != nil {
		o.logger.Error("failed to publish checkout event", "error", err, "checkout_id", result.CheckoutID)
	}
}
