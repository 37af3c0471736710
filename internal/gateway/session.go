package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-otel-demo/internal/storefront"
)

// Identity is the customer a session token stands for.
type Identity struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

func (id Identity) apply(h http.Header) {
	for name, value := range map[string]string{
		storefront.HeaderCustomerID:       id.CustomerID,
		storefront.HeaderCustomerName:     id.Name,
		storefront.HeaderCustomerUsername: id.Username,
		storefront.HeaderCustomerEmail:    id.Email,
		storefront.HeaderCustomerRole:     id.Role,
	} {
		if value != "" {
			h.Set(name, value)
		}
	}
}

type Sessions interface {
	Lookup(ctx context.Context, token string) (Identity, bool, error)
}

// StaticSessions maps bearer tokens to identities loaded at startup.
type StaticSessions map[string]Identity

// ParseSessions reads a JSON object of token to identity. Empty input yields no sessions.
func ParseSessions(data string) (StaticSessions, error) {
	sessions := StaticSessions{}
	if strings.TrimSpace(data) == "" {
		return sessions, nil
	}
	if err := json.Unmarshal([]byte(data), &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	for token, id := range sessions {
		if id.CustomerID == "" {
			return nil, fmt.Errorf("parse sessions: token %q has no customer_id", token)
		}
	}
	return sessions, nil
}

func (s StaticSessions) Lookup(_ context.Context, token string) (Identity, bool, error) {
	id, ok := s[token]
	return id, ok, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
