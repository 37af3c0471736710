package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const (
	defaultCartTTL      = 30 * 24 * time.Hour
	defaultWatchRetries = 5
)

// RedisStore keeps one JSON document per customer. Mutations run inside
// WATCH/MULTI so a concurrent writer for the same customer forces a retry.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
	now        func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:     client,
		ttl:        defaultCartTTL,
		maxRetries: defaultWatchRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func cartKey(customerID string) string {
	return fmt.Sprintf("cart:%s", customerID)
}

func (s *RedisStore) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	cart, err := s.read(ctx, s.client, cartKey(customerID))
	if err != nil {
		return nil, err
	}
	if cart == nil || !cart.Active {
		return nil, nil
	}
	return cart, nil
}

func (s *RedisStore) GetOrCreate(ctx context.Context, customerID, displayName string) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	return s.update(ctx, customerID, func(current *domain.Cart, now time.Time) (*domain.Cart, error) {
		if current == nil || !current.Active {
			return newCart(customerID, displayName, now), nil
		}
		return current, nil
	})
}

func (s *RedisStore) AddItem(ctx context.Context, customerID string, item domain.CartItem) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}
	return s.mutate(ctx, customerID, true, func(c *domain.Cart, now time.Time) error {
		mergeItem(c, item, now)
		return nil
	})
}

func (s *RedisStore) AddItemWithinStock(ctx context.Context, customerID string, item domain.CartItem, available int) (*domain.Cart, error) {
	if err := validateNewItem(item); err != nil {
		return nil, err
	}
	return s.mutate(ctx, customerID, true, func(c *domain.Cart, now time.Time) error {
		if err := withinStock(c, item, available); err != nil {
			return err
		}
		mergeItem(c, item, now)
		return nil
	})
}

func (s *RedisStore) UpdateItemQuantity(ctx context.Context, customerID, productID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(c *domain.Cart, now time.Time) error {
		if !setQuantity(c, productID, quantity, now) {
			return lineNotFound(productID)
		}
		return nil
	})
}

func (s *RedisStore) RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(c *domain.Cart, now time.Time) error {
		removeLine(c, productID, now)
		return nil
	})
}

func (s *RedisStore) Clear(ctx context.Context, customerID string) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(c *domain.Cart, now time.Time) error {
		c.Items = []domain.CartItem{}
		c.LastUpdated = now
		return nil
	})
}

func (s *RedisStore) RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) (*domain.Cart, error) {
	return s.mutate(ctx, customerID, false, func(c *domain.Cart, now time.Time) error {
		subtractOrdered(c, ordered, now)
		return nil
	})
}

func (s *RedisStore) mutate(ctx context.Context, customerID string, create bool, fn func(*domain.Cart, time.Time) error) (*domain.Cart, error) {
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}

	return s.update(ctx, customerID, func(current *domain.Cart, now time.Time) (*domain.Cart, error) {
		if current == nil {
			if !create {
				return nil, cartNotFound(customerID)
			}
			current = newCart(customerID, "", now)
		}
		if !current.Active {
			return nil, inactive()
		}
		if err := fn(current, now); err != nil {
			return nil, err
		}
		return current, nil
	})
}

func (s *RedisStore) update(ctx context.Context, customerID string, fn func(*domain.Cart, time.Time) (*domain.Cart, error)) (*domain.Cart, error) {
	key := cartKey(customerID)

	var result *domain.Cart
	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}

		next, err := fn(current, s.now())
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		result = next
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, ErrConcurrentUpdate
}

func (s *RedisStore) read(ctx context.Context, c stringGetter, key string) (*domain.Cart, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}
