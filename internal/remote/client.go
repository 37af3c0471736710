// Package remote talks to the product, order and customer service over HTTP/JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	errUnexpectedStatus = errors.New("unexpected status")
	errMalformed        = errors.New("malformed response")
)

const (
	defaultTimeout    = 5 * time.Second
	breakerThreshold  = 5
	breakerOpenPeriod = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

type response struct {
	status int
	body   []byte
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[*response]
	products   singleflight.Group
	logger     *slog.Logger
}

type Option func(*Client)

// WithTimeout bounds every remote call, including the time spent reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    defaultTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "remote-service",
		Timeout: breakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		// A caller giving up says nothing about the remote side.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// GetProduct shares one in-flight lookup per product id. The shared call is detached
// from the caller that started it, so a cancelled caller only abandons its own wait.
func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	const op = "get product"

	ch := c.products.DoChan(productID, func() (any, error) {
		var product domain.Product
		if err := c.getJSON(context.WithoutCancel(ctx), op, "/products/"+url.PathEscape(productID), &product); err != nil {
			return nil, err
		}
		return &product, nil
	})

	select {
	case <-ctx.Done():
		return nil, &domain.GatewayError{Op: op, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		product := *res.Val.(*domain.Product)
		return &product, nil
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.getJSON(ctx, "list products", "/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

// CreateOrder places exactly one order line. Any failure, including a response
// without an order id, is a *domain.GatewayError.
func (c *Client) CreateOrder(ctx context.Context, customerID, productID string, quantity int) (*domain.Order, error) {
	const op = "create order"

	resp, err := c.do(ctx, op, http.MethodPost, "/orders", createOrderRequest{
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
	})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var order domain.Order
	if err := json.Unmarshal(resp.body, &order); err != nil {
		return nil, &domain.GatewayError{Op: op, StatusCode: resp.status, Err: fmt.Errorf("%w: %v", errMalformed, err)}
	}
	if order.ID == "" {
		return nil, &domain.GatewayError{Op: op, StatusCode: resp.status, Err: fmt.Errorf("%w: missing order id", errMalformed)}
	}

	return &order, nil
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	const op = "update order status"

	resp, err := c.do(ctx, op, http.MethodPatch, "/orders/"+url.PathEscape(orderID)+"/status", updateStatusRequest{Status: status})
	if err != nil {
		return nil, err
	}

	var order domain.Order
	if err := decode(op, resp, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var customers []domain.Customer
	if err := c.getJSON(ctx, "list customers", "/customers", &customers); err != nil {
		return nil, err
	}
	return customers, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := c.getJSON(ctx, "get customer", "/customers/"+url.PathEscape(customerID), &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	const op = "create customer"

	resp, err := c.do(ctx, op, http.MethodPost, "/customers", customer)
	if err != nil {
		return nil, err
	}

	var created domain.Customer
	if err := decode(op, resp, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, &domain.GatewayError{Op: op, StatusCode: resp.status, Err: fmt.Errorf("%w: missing customer id", errMalformed)}
	}
	return &created, nil
}

// ResolveCustomer returns the remote id for a storefront customer: the customer itself
// when the id is known remotely, otherwise a customer with the same username, otherwise
// a newly created record.
func (c *Client) ResolveCustomer(ctx context.Context, customer domain.Customer) (string, error) {
	if customer.ID != "" {
		existing, err := c.GetCustomer(ctx, customer.ID)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	if customer.Username != "" {
		customers, err := c.ListCustomers(ctx)
		if err != nil {
			return "", err
		}
		for _, existing := range customers {
			if existing.Username == customer.Username {
				return existing.ID, nil
			}
		}
	}

	created, err := c.CreateCustomer(ctx, customer)
	if err != nil {
		return "", err
	}
	c.logger.Info("remote customer created", "customer_id", created.ID, "username", created.Username)
	return created.ID, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(op, resp, out)
}

func decode(op string, resp *response, out any) error {
	switch {
	case resp.status == http.StatusNotFound:
		return ErrNotFound
	case resp.status < 200 || resp.status > 299:
		return statusError(op, resp)
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		return &domain.GatewayError{Op: op, StatusCode: resp.status, Err: fmt.Errorf("%w: %v", errMalformed, err)}
	}
	return nil
}

func statusError(op string, resp *response) error {
	var body struct {
		Error string `json:"error"`
	}
	detail := errUnexpectedStatus
	if json.Unmarshal(resp.body, &body) == nil && body.Error != "" {
		detail = fmt.Errorf("%w: %s", errUnexpectedStatus, body.Error)
	}
	return &domain.GatewayError{Op: op, StatusCode: resp.status, Err: detail}
}

// do performs one bounded call through the circuit breaker. Only transport errors and
// 5xx responses count against the breaker; other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*response, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*response, error) {
		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = httpResp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		resp := &response{status: httpResp.StatusCode, body: respBody}
		if httpResp.StatusCode >= http.StatusInternalServerError {
			return nil, statusError(op, resp)
		}
		return resp, nil
	})
	if err != nil {
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		c.logger.Warn("remote call failed", "op", op, "method", method, "path", path, "error", err)
		return nil, &domain.GatewayError{Op: op, Err: err}
	}

	return resp, nil
}
