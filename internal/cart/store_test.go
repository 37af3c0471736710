package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

func item(productID string, price string, quantity int) domain.CartItem {
	return domain.CartItem{
		ProductID:   productID,
		ProductName: "Product " + productID,
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    quantity,
	}
}

func lineQuantities(c *domain.Cart) map[string]int {
	out := make(map[string]int, len(c.Items))
	for _, it := range c.Items {
		out[it.ProductID] = it.Quantity
	}
	return out
}

// testStoreContract exercises the behavior every backing must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get returns nil for unknown customer", func(t *testing.T) {
		store := newStore(t)

		c, err := store.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("get or create is idempotent", func(t *testing.T) {
		store := newStore(t)

		first, err := store.GetOrCreate(ctx, "cust-1", "Ana")
		require.NoError(t, err)
		second, err := store.GetOrCreate(ctx, "cust-1", "Ana")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.Active)
		assert.Empty(t, second.Items)
		assert.Equal(t, "Ana", second.DisplayName)
	})

	t.Run("empty customer id is rejected", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetOrCreate(ctx, "", "")
		var vErr *domain.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("adding the same product sums quantities into one line", func(t *testing.T) {
		store := newStore(t)

		for _, q := range []int{2, 3, 1} {
			_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", q))
			require.NoError(t, err)
		}

		c, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 6, c.Items[0].Quantity)
		assert.True(t, c.Total().Equal(decimal.RequireFromString("60.00")))
	})

	t.Run("add rejects quantity below one", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 0))
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Invalid product or quantity.", vErr.Message)

		c, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("lines keep insertion order", func(t *testing.T) {
		store := newStore(t)

		for _, id := range []string{"C", "A", "B"} {
			_, err := store.AddItem(ctx, "cust-1", item(id, "1.00", 1))
			require.NoError(t, err)
		}
		_, err := store.AddItem(ctx, "cust-1", item("A", "1.00", 1))
		require.NoError(t, err)

		c, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, c.Items, 3)
		assert.Equal(t, "C", c.Items[0].ProductID)
		assert.Equal(t, "A", c.Items[1].ProductID)
		assert.Equal(t, "B", c.Items[2].ProductID)
	})

	t.Run("update sets the exact quantity", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 2))
		require.NoError(t, err)

		c, err := store.UpdateItemQuantity(ctx, "cust-1", "A", 7)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 7}, lineQuantities(c))
	})

	t.Run("update to zero matches remove", func(t *testing.T) {
		updated := newStore(t)
		removed := newStore(t)

		for _, s := range []Store{updated, removed} {
			_, err := s.AddItem(ctx, "cust-1", item("A", "10.00", 2))
			require.NoError(t, err)
			_, err = s.AddItem(ctx, "cust-1", item("B", "5.00", 1))
			require.NoError(t, err)
		}

		a, err := updated.UpdateItemQuantity(ctx, "cust-1", "A", 0)
		require.NoError(t, err)
		b, err := removed.RemoveItem(ctx, "cust-1", "A")
		require.NoError(t, err)

		assert.Equal(t, lineQuantities(b), lineQuantities(a))
		assert.True(t, a.Total().Equal(b.Total()))
	})

	t.Run("update of a missing line is not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 1))
		require.NoError(t, err)

		_, err = store.UpdateItemQuantity(ctx, "cust-1", "missing", 3)
		var nfErr *domain.NotFoundError
		assert.ErrorAs(t, err, &nfErr)
	})

	t.Run("remove of a missing line is a no-op", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 1))
		require.NoError(t, err)

		c, err := store.RemoveItem(ctx, "cust-1", "missing")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 1}, lineQuantities(c))
	})

	t.Run("clear empties the cart and keeps its identity", func(t *testing.T) {
		store := newStore(t)

		added, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 2))
		require.NoError(t, err)

		_, err = store.Clear(ctx, "cust-1")
		require.NoError(t, err)

		c, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, added.ID, c.ID)
		assert.Equal(t, 0, c.ItemCount())
		assert.True(t, c.Total().IsZero())
	})

	t.Run("add within stock caps the merged quantity", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItemWithinStock(ctx, "cust-1", item("A", "10.00", 2), 3)
		require.NoError(t, err)

		_, err = store.AddItemWithinStock(ctx, "cust-1", item("A", "10.00", 2), 3)
		var stockErr *domain.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 4, stockErr.Requested)
		assert.Equal(t, 3, stockErr.Available)
		assert.Equal(t, "Only 3 available, but 4 requested", stockErr.Error())

		c, err := store.AddItemWithinStock(ctx, "cust-1", item("A", "10.00", 1), 3)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 3}, lineQuantities(c))
	})

	t.Run("remove ordered keeps lines that were not ordered", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 2))
		require.NoError(t, err)
		_, err = store.AddItem(ctx, "cust-1", item("B", "5.00", 1))
		require.NoError(t, err)
		_, err = store.AddItem(ctx, "cust-1", item("C", "1.00", 4))
		require.NoError(t, err)

		c, err := store.RemoveOrdered(ctx, "cust-1", map[string]int{"A": 2, "C": 1, "missing": 5})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"B": 1, "C": 3}, lineQuantities(c))

		again, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, again.ID)
		assert.Equal(t, map[string]int{"B": 1, "C": 3}, lineQuantities(again))
	})

	t.Run("remove ordered empties a cart that was fully ordered", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 2))
		require.NoError(t, err)

		c, err := store.RemoveOrdered(ctx, "cust-1", map[string]int{"A": 2})
		require.NoError(t, err)
		assert.True(t, c.IsEmpty())
		assert.True(t, c.Active)
	})

	t.Run("mutating a cart that does not exist is not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Clear(ctx, "cust-1")
		var nfErr *domain.NotFoundError
		assert.ErrorAs(t, err, &nfErr)
	})

	t.Run("customers do not see each other", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 1))
		require.NoError(t, err)
		_, err = store.AddItem(ctx, "cust-2", item("B", "3.00", 4))
		require.NoError(t, err)

		one, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		two, err := store.Get(ctx, "cust-2")
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"A": 1}, lineQuantities(one))
		assert.Equal(t, map[string]int{"B": 4}, lineQuantities(two))
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ConcurrentAddsForOneCustomer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddItem(ctx, "cust-1", item("A", "2.50", 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, workers, c.Items[0].Quantity)
}

func TestMemoryStore_ConcurrentAddsWithinStock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const (
		workers   = 20
		available = 5
	)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddItemWithinStock(ctx, "cust-1", item("A", "2.50", 1), available)
			if err != nil {
				var stockErr *domain.StockError
				assert.ErrorAs(t, err, &stockErr)
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	c, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": available}, lineQuantities(c))
	assert.Equal(t, workers-available, rejected)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	c, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 1))
	require.NoError(t, err)
	c.Items[0].Quantity = 99

	again, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestMemoryStore_FailedMutationLeavesCartUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.AddItem(ctx, "cust-1", item("A", "10.00", 1))
	require.NoError(t, err)

	sentinel := errors.New("boom")
	_, err = store.mutate("cust-1", false, func(c *domain.Cart, _ time.Time) error {
		c.Items = nil
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	c, err := store.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestMemoryStore_IndependentCustomers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AddItem(ctx, fmt.Sprintf("cust-%d", n), item("A", "1.00", n+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		c, err := store.Get(ctx, fmt.Sprintf("cust-%d", i))
		require.NoError(t, err)
		assert.Equal(t, i+1, c.ItemCount())
	}
}
