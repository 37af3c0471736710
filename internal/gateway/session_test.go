package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSessions(t *testing.T) {
	t.Run("empty input has no sessions", func(t *testing.T) {
		sessions, err := ParseSessions("  ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok, _ := sessions.Lookup(context.Background(), "anything"); ok {
			t.Error("expected no session")
		}
	})

	t.Run("maps tokens to identities", func(t *testing.T) {
		sessions, err := ParseSessions(`{"tok-ana":{"customer_id":"CUST-001","username":"ana","role":"customer"}}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		id, ok, err := sessions.Lookup(context.Background(), "tok-ana")
		if err != nil || !ok {
			t.Fatalf("expected session, got ok=%v err=%v", ok, err)
		}
		if id.CustomerID != "CUST-001" || id.Username != "ana" {
			t.Errorf("unexpected identity: %+v", id)
		}
	})

	t.Run("rejects identities without a customer id", func(t *testing.T) {
		if _, err := ParseSessions(`{"tok":{"username":"ana"}}`); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		if _, err := ParseSessions(`{`); err == nil {
			t.Error("expected error")
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer tok-ana", "tok-ana"},
		{"bearer tok-ana", "tok-ana"},
		{"Bearer ", ""},
		{"Basic dXNlcjpwYXNz", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
