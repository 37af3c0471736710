package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps carts in the storefront schema. Mutations lock the cart row for
// the duration of their transaction.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresStore) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, customerID, false)
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, customerID, displayName string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	if err := s.insertCart(ctx, s.db, customerID, displayName); err != nil {
		return nil, err
	}

	cart, err := s.load(ctx, s.db, customerID, false)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, fmt.Errorf("cart for customer %s vanished after insert", customerID)
	}
	return cart, nil
}

func (s *PostgresStore) AddItem(ctx context.Context, customerID string, item domain.CartItem) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}

	return s.mutate(ctx, customerID, true, func(tx *sql.Tx, cart *domain.Cart, now time.Time) error {
		return upsertItem(ctx, tx, cart.ID, item, now)
	})
}

func (s *PostgresStore) AddItemWithinStock(ctx context.Context, customerID string, item domain.CartItem, available int) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}

	return s.mutate(ctx, customerID, true, func(tx *sql.Tx, cart *domain.Cart, now time.Time) error {
		if err := withinStock(cart, item, available); err != nil {
			return err
		}
		return upsertItem(ctx, tx, cart.ID, item, now)
	})
}

func (s *PostgresStore) UpdateItemQuantity(ctx context.Context, customerID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, customerID, productID)
	}

	return s.mutate(ctx, customerID, false, func(tx *sql.Tx, cart *domain.Cart, _ time.Time) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE storefront.cart_items SET quantity = $3
			WHERE cart_id = $1 AND product_id = $2
		`, cart.ID, productID, quantity)
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return lineNotFound(productID)
		}
		return nil
	})
}

func (s *PostgresStore) RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(tx *sql.Tx, cart *domain.Cart, _ time.Time) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM storefront.cart_items WHERE cart_id = $1 AND product_id = $2
		`, cart.ID, productID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Clear(ctx context.Context, customerID string) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(tx *sql.Tx, cart *domain.Cart, _ time.Time) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM storefront.cart_items WHERE cart_id = $1
		`, cart.ID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		return nil
	})
}

// RemoveOrdered runs under the cart row lock, so a line added after the order snapshot
// is only ever reduced by what was ordered.
func (s *PostgresStore) RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(tx *sql.Tx, cart *domain.Cart, _ time.Time) error {
		for productID, quantity := range ordered {
			if quantity <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM storefront.cart_items
				WHERE cart_id = $1 AND product_id = $2 AND quantity <= $3
			`, cart.ID, productID, quantity); err != nil {
				return fmt.Errorf("delete ordered cart item: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE storefront.cart_items SET quantity = quantity - $3
				WHERE cart_id = $1 AND product_id = $2
			`, cart.ID, productID, quantity); err != nil {
				return fmt.Errorf("reduce ordered cart item: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) mutate(ctx context.Context, customerID string, create bool, fn func(*sql.Tx, *domain.Cart, time.Time) error) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if create {
		if err := s.insertCart(ctx, tx, customerID, ""); err != nil {
			return nil, err
		}
	}

	cart, err := s.load(ctx, tx, customerID, true)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, cartNotFound(customerID)
	}

	now := s.now()
	if err := fn(tx, cart, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE storefront.carts SET last_updated = $2 WHERE id = $1
	`, cart.ID, now); err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.load(ctx, s.db, customerID, false)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertItem(ctx context.Context, db execer, cartID string, item domain.CartItem, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO storefront.cart_items (id, cart_id, product_id, product_name, unit_price, quantity, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = storefront.cart_items.quantity + EXCLUDED.quantity
	`, uuid.New().String(), cartID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, now)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// insertCart relies on the partial unique index over active carts, so concurrent
// callers end up sharing one row.
func (s *PostgresStore) insertCart(ctx context.Context, db execer, customerID, displayName string) error {
	now := s.now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO storefront.carts (id, customer_id, display_name, created_at, last_updated, active)
		VALUES ($1, $2, $3, $4, $4, TRUE)
		ON CONFLICT (customer_id) WHERE active DO NOTHING
	`, uuid.New().String(), customerID, displayName, now)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (s *PostgresStore) load(ctx context.Context, q queryer, customerID string, forUpdate bool) (*domain.Cart, error) {
	query := `
		SELECT id, customer_id, display_name, created_at, last_updated, active
		FROM storefront.carts
		WHERE customer_id = $1 AND active
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	cart := &domain.Cart{}
	err := q.QueryRowContext(ctx, query, customerID).Scan(
		&cart.ID, &cart.CustomerID, &cart.DisplayName, &cart.CreatedAt, &cart.LastUpdated, &cart.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, product_name, unit_price, quantity, added_at
		FROM storefront.cart_items
		WHERE cart_id = $1
		ORDER BY seq
	`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.AddedAt); err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}
