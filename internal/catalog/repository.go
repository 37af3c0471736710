package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInUse             = errors.New("referenced by existing orders")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const productColumns = `id, product_name, description, price, stock_available, image_url`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockAvailable, &p.ImageURL); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM catalog.products
		ORDER BY product_name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM catalog.products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	p.ID = uuid.New().String()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalog.products (id, product_name, description, price, stock_available, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Description, p.Price, p.StockAvailable, p.ImageURL)
	return err
}

// Restock adds units back to a product. It returns ErrProductNotFound for unknown ids.
func (r *Repository) Restock(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		UPDATE catalog.products
		SET stock_available = stock_available + $2
		WHERE id = $1
		RETURNING `+productColumns,
		id, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return p, nil
}

// UpdateProduct replaces every field of the product with the given id.
func (r *Repository) UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(r.db.QueryRowContext(ctx, `
		UPDATE catalog.products
		SET product_name = $2, description = $3, price = $4, stock_available = $5, image_url = $6
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.Price, p.StockAvailable, p.ImageURL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return updated, nil
}

// DeleteProduct fails with ErrInUse while orders still reference the product.
func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM catalog.products WHERE id = $1`, id, ErrProductNotFound)
}

func (r *Repository) deleteByID(ctx context.Context, query, id string, notFound error) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if isPQError(err, foreignKeyViolation) {
			return ErrInUse
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

const customerColumns = `id, name, surname, username, email, shipping_address`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Surname, &c.Username, &c.Email, &c.ShippingAddress); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM catalog.customers
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	customers := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (r *Repository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM catalog.customers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return c, nil
}

func (r *Repository) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	c.ID = uuid.New().String()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalog.customers (id, name, surname, username, email, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.Surname, c.Username, c.Email, c.ShippingAddress)
	if err != nil {
		if isPQError(err, uniqueViolation) {
			return ErrDuplicateUsername
		}
		return err
	}

	return nil
}

// UpdateCustomer replaces every field of the customer with the given id.
func (r *Repository) UpdateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	updated, err := scanCustomer(r.db.QueryRowContext(ctx, `
		UPDATE catalog.customers
		SET name = $2, surname = $3, username = $4, email = $5, shipping_address = $6
		WHERE id = $1
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Surname, c.Username, c.Email, c.ShippingAddress))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrCustomerNotFound
		case isPQError(err, uniqueViolation):
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}

	return updated, nil
}

// DeleteCustomer fails with ErrInUse while orders still reference the customer.
func (r *Repository) DeleteCustomer(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM catalog.customers WHERE id = $1`, id, ErrCustomerNotFound)
}

const orderColumns = `id, customer_id, username, product_id, product_name, quantity, unit_price, total_price, status, order_date`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.CustomerID, &o.Username, &o.ProductID, &o.ProductName,
		&o.Quantity, &o.UnitPrice, &o.TotalPrice, &o.Status, &o.OrderDate); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder decrements stock and inserts the order in one transaction, so two orders
// can never take the same unit.
func (r *Repository) CreateOrder(ctx context.Context, customerID, productID string, quantity int) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var username string
	err = tx.QueryRowContext(ctx, `
		SELECT username FROM catalog.customers WHERE id = $1
	`, customerID).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	order := &domain.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Username:   username,
		ProductID:  productID,
		Quantity:   quantity,
		Status:     domain.OrderStatusSubmitted,
		OrderDate:  time.Now().UTC(),
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE catalog.products
		SET stock_available = stock_available - $2
		WHERE id = $1 AND stock_available >= $2
		RETURNING product_name, price
	`, productID, quantity).Scan(&order.ProductName, &order.UnitPrice)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM catalog.products WHERE id = $1)
		`, productID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrProductNotFound
		}
		return nil, ErrInsufficientStock
	}
	order.TotalPrice = order.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog.orders (`+orderColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, order.ID, order.CustomerID, order.Username, order.ProductID, order.ProductName,
		order.Quantity, order.UnitPrice, order.TotalPrice, order.Status, order.OrderDate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM catalog.orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return o, nil
}

// ListOrders returns the most recent orders first. A non-empty ids restricts the result
// to those orders.
func (r *Repository) ListOrders(ctx context.Context, ids []string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM catalog.orders`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY order_date DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateOrderStatus returns nil, nil when the order does not exist. Cancelling an order
// puts its units back in stock.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current   domain.OrderStatus
		productID string
		quantity  int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, product_id, quantity
		FROM catalog.orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&current, &productID, &quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE catalog.orders SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id); err != nil {
		return nil, err
	}

	if status == domain.OrderStatusCancelled && current != domain.OrderStatusCancelled {
		if _, err := tx.ExecContext(ctx, `
			UPDATE catalog.products SET stock_available = stock_available + $2
			WHERE id = $1
		`, productID, quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetOrder(ctx, id)
}

// DeleteOrder removes an order. Units of an order that was neither cancelled nor
// completed go back in stock.
func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    domain.OrderStatus
		productID string
		quantity  int
	)
	err = tx.QueryRowContext(ctx, `
		DELETE FROM catalog.orders
		WHERE id = $1
		RETURNING status, product_id, quantity
	`, id).Scan(&status, &productID, &quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	}

	if status != domain.OrderStatusCancelled && status != domain.OrderStatusCompleted {
		if _, err := tx.ExecContext(ctx, `
			UPDATE catalog.products SET stock_available = stock_available + $2
			WHERE id = $1
		`, productID, quantity); err != nil {
			return err
		}
	}

	return tx.Commit()
}
