// Package gateway is the single entry point in front of the storefront and catalog
// services.
package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-otel-demo/internal/telemetry"
)

type Handler struct {
	storefrontProxy *ServiceProxy
	catalogProxy    *ServiceProxy
	sessions        Sessions
	logger          *slog.Logger
}

func NewHandler(storefrontProxy, catalogProxy *ServiceProxy, sessions Sessions, logger *slog.Logger) *Handler {
	return &Handler{
		storefrontProxy: storefrontProxy,
		catalogProxy:    catalogProxy,
		sessions:        sessions,
		logger:          logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("GET /cart/summary", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("PATCH /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("DELETE /cart", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("POST /cart/checkout", telemetry.WithHTTPRoute(h.HandleStorefront))
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(h.HandleCatalog))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(h.HandleCatalog))
	mux.HandleFunc("/admin/", telemetry.WithHTTPRoute(h.HandleAdmin))
}

// HandleStorefront forwards cart routes with the identity of the caller's session, if any.
func (h *Handler) HandleStorefront(w http.ResponseWriter, r *http.Request) {
	var identity *Identity
	if token := bearerToken(r); token != "" && h.sessions != nil {
		id, ok, err := h.sessions.Lookup(r.Context(), token)
		if err != nil {
			h.logger.Error("session lookup failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "session lookup failed")
			return
		}
		if ok {
			identity = &id
		}
	}
	h.proxyRequest(w, r, h.storefrontProxy, r.URL.Path, identity)
}

// HandleCatalog exposes the read-only product listing to shoppers.
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.catalogProxy, r.URL.Path, nil)
}

// HandleAdmin forwards /admin/... to the catalog service with the prefix removed.
func (h *Handler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/admin")
	if path == "" || path == "/" {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.proxyRequest(w, r, h.catalogProxy, path, nil)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string, identity *Identity) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path, identity)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
