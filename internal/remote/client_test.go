package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestClient_GetProduct(t *testing.T) {
	t.Run("decodes product payload", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/products/p-1" {
				t.Errorf("expected /products/p-1, got %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"p-1","productName":"Lamp","price":19.99,"stockAvailable":4,"imageUrl":"lamp.png"}`))
		})

		product, err := client.GetProduct(context.Background(), "p-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if product.Name != "Lamp" {
			t.Errorf("expected name Lamp, got %s", product.Name)
		}
		if product.Price.StringFixed(2) != "19.99" {
			t.Errorf("expected price 19.99, got %s", product.Price)
		}
		if product.StockAvailable != 4 {
			t.Errorf("expected stock 4, got %d", product.StockAvailable)
		}
	})

	t.Run("returns ErrNotFound on 404", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := client.GetProduct(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("malformed body is a gateway error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":`))
		})

		_, err := client.GetProduct(context.Background(), "p-1")
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if !errors.Is(err, errMalformed) {
			t.Errorf("expected malformed response error, got %v", err)
		}
	})

	t.Run("timeout surfaces as gateway error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, WithTimeout(20*time.Millisecond))

		_, err := client.GetProduct(context.Background(), "p-1")
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("expected timeout to be retryable")
		}
	})
}

func TestClient_CreateOrder(t *testing.T) {
	t.Run("posts one order line", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/orders" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req["customerId"] != "c-1" || req["productId"] != "p-1" || req["quantity"] != float64(2) {
				t.Errorf("unexpected request body: %v", req)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"o-1","customerId":"c-1","productId":"p-1","quantity":2,"totalPrice":"20.00","status":"Submitted"}`))
		})

		order, err := client.CreateOrder(context.Background(), "c-1", "p-1", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.ID != "o-1" {
			t.Errorf("expected order o-1, got %s", order.ID)
		}
		if order.TotalPrice.StringFixed(2) != "20.00" {
			t.Errorf("expected total 20.00, got %s", order.TotalPrice)
		}
		if order.Status != domain.OrderStatusSubmitted {
			t.Errorf("expected Submitted, got %s", order.Status)
		}
	})

	t.Run("non-success status is a gateway error with the status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"insufficient stock"}`))
		})

		_, err := client.CreateOrder(context.Background(), "c-1", "p-1", 2)
		var gwErr *domain.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if gwErr.StatusCode != http.StatusConflict {
			t.Errorf("expected status 409, got %d", gwErr.StatusCode)
		}
	})

	t.Run("response without an id is rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"Submitted"}`))
		})

		_, err := client.CreateOrder(context.Background(), "c-1", "p-1", 1)
		if !errors.Is(err, errMalformed) {
			t.Errorf("expected malformed response error, got %v", err)
		}
	})
}

func TestClient_UpdateOrderStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/orders/o-1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"status":"Processing"}` {
			t.Errorf("unexpected body: %s", body)
		}
		_, _ = w.Write([]byte(`{"id":"o-1","status":"Processing"}`))
	})

	order, err := client.UpdateOrderStatus(context.Background(), "o-1", domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected Processing, got %s", order.Status)
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	var err error
	for i := 0; i < breakerThreshold+2; i++ {
		_, err = client.CreateOrder(context.Background(), "c-1", "p-1", 1)
	}

	if got := hits.Load(); got != breakerThreshold {
		t.Errorf("expected %d calls to reach the server, got %d", breakerThreshold, got)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker error, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("expected open breaker to be retryable")
	}
}

func TestClient_CancelledCallersDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p-1","productName":"Lamp","price":1,"stockAvailable":1}`))
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < breakerThreshold+2; i++ {
		_, err := client.CreateOrder(cancelled, "c-1", "p-1", 1)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}

	product, err := client.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("expected breaker to stay closed, got %v", err)
	}
	if product.ID != "p-1" {
		t.Errorf("expected product p-1, got %s", product.ID)
	}
}

func TestClient_GetProductSharedLookupSurvivesCancelledCaller(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p-1","productName":"Lamp","price":19.99,"stockAvailable":4}`))
	})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.GetProduct(first, "p-1")
		firstErr <- err
	}()
	<-arrived

	type result struct {
		product *domain.Product
		err     error
	}
	second := make(chan result, 1)
	go func() {
		product, err := client.GetProduct(context.Background(), "p-1")
		second <- result{product, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled caller to see context.Canceled, got %v", err)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("expected live caller to get the product, got %v", got.err)
	}
	if got.product.StockAvailable != 4 {
		t.Errorf("expected stock 4, got %d", got.product.StockAvailable)
	}
}

func TestClient_ResolveCustomer(t *testing.T) {
	t.Run("known id is returned as is", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/customers/c-1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"id":"c-1","username":"ana"}`))
		})

		id, err := client.ResolveCustomer(context.Background(), domain.Customer{ID: "c-1", Username: "ana"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "c-1" {
			t.Errorf("expected c-1, got %s", id)
		}
	})

	t.Run("matches by username", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/customers/session-7":
				w.WriteHeader(http.StatusNotFound)
			case "/customers":
				_, _ = w.Write([]byte(`[{"id":"c-9","username":"bob"},{"id":"c-2","username":"ana"}]`))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		})

		id, err := client.ResolveCustomer(context.Background(), domain.Customer{ID: "session-7", Username: "ana"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "c-2" {
			t.Errorf("expected c-2, got %s", id)
		}
	})

	t.Run("creates a customer when none matches", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/customers":
				_, _ = w.Write([]byte(`[]`))
			case r.Method == http.MethodPost && r.URL.Path == "/customers":
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"c-new","username":"ana"}`))
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
		})

		id, err := client.ResolveCustomer(context.Background(), domain.Customer{Username: "ana", Name: "Ana"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "c-new" {
			t.Errorf("expected c-new, got %s", id)
		}
	})
}
