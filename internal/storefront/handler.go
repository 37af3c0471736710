package storefront

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/joao-fontenele/storefront-otel-demo/internal/cart"
	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
	"github.com/joao-fontenele/storefront-otel-demo/internal/telemetry"
)

// Identity headers set by the session layer in front of the storefront.
const (
	HeaderCustomerID       = "X-Customer-ID"
	HeaderCustomerName     = "X-Customer-Name"
	HeaderCustomerUsername = "X-Customer-Username"
	HeaderCustomerEmail    = "X-Customer-Email"
	HeaderCustomerRole     = "X-Customer-Role"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(h.HandleGetCart))
	mux.HandleFunc("GET /cart/summary", telemetry.WithHTTPRoute(h.HandleSummary))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(h.HandleAddItem))
	mux.HandleFunc("PATCH /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleUpdateQuantity))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleRemoveItem))
	mux.HandleFunc("DELETE /cart", telemetry.WithHTTPRoute(h.HandleClear))
	mux.HandleFunc("POST /cart/checkout", telemetry.WithHTTPRoute(h.HandleCheckout))
	mux.HandleFunc("GET /healthz", h.HandleHealth)
}

func CustomerFromRequest(r *http.Request) Customer {
	return Customer{
		ID:       r.Header.Get(HeaderCustomerID),
		Name:     r.Header.Get(HeaderCustomerName),
		Username: r.Header.Get(HeaderCustomerUsername),
		Email:    r.Header.Get(HeaderCustomerEmail),
		Role:     r.Header.Get(HeaderCustomerRole),
	}
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetCart(r.Context(), CustomerFromRequest(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.CartSummary(r.Context(), CustomerFromRequest(r)))
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	c, err := h.service.AddToCart(r.Context(), CustomerFromRequest(r), req.ProductID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	c, err := h.service.UpdateQuantity(r.Context(), CustomerFromRequest(r), r.PathValue("productId"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.RemoveItem(r.Context(), CustomerFromRequest(r), r.PathValue("productId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.ClearCart(r.Context(), CustomerFromRequest(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	customer := CustomerFromRequest(r)

	result, err := h.service.Checkout(r.Context(), customer)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	outcome := result.Err()
	if outcome == nil {
		h.logger.Info("checkout completed", "checkout_id", result.CheckoutID, "customer_id", customer.ID, "orders", len(result.Orders))
		h.writeJSON(w, http.StatusOK, result)
		return
	}

	status, body := errorResponse(outcome)
	if result.Status == domain.CheckoutEmptyCart {
		status = http.StatusConflict
	}
	body.Result = result
	h.writeJSON(w, status, body)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error      string                 `json:"error"`
	Code       string                 `json:"code"`
	Retryable  bool                   `json:"retryable,omitempty"`
	Violations []domain.Violation     `json:"violations,omitempty"`
	Failures   []domain.LineFailure   `json:"failures,omitempty"`
	Result     *domain.CheckoutResult `json:"result,omitempty"`
}

// errorResponse maps the error taxonomy onto a status and an actionable body.
func errorResponse(err error) (int, errorBody) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		stockErr      *domain.StockError
		partialErr    *domain.PartialCheckoutError
		gatewayErr    *domain.GatewayError
	)

	switch {
	case errors.Is(err, ErrNoCustomer):
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "unauthenticated"}
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorBody{Error: validationErr.Message, Code: "validation_error"}
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, errorBody{Error: notFoundErr.Error(), Code: "not_found"}
	case errors.As(err, &stockErr):
		return http.StatusConflict, errorBody{Error: stockErr.Error(), Code: "insufficient_stock", Violations: stockErr.Violations}
	case errors.As(err, &partialErr):
		return http.StatusConflict, errorBody{Error: partialErr.Error(), Code: "partial_checkout", Failures: partialErr.Failures}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, errorBody{
			Error:     "The product service is temporarily unavailable, please try again shortly.",
			Code:      "service_unavailable",
			Retryable: true,
		}
	case errors.As(err, &gatewayErr):
		message := "The product service could not complete the request, please try again."
		if errors.Is(err, domain.ErrAllOrdersFailed) {
			message = "None of your orders could be placed and your cart was kept, please try again."
		}
		return http.StatusBadGateway, errorBody{
			Error:     message,
			Code:      "gateway_error",
			Retryable: true,
			Failures:  gatewayErr.Failures,
		}
	case errors.Is(err, cart.ErrConcurrentUpdate):
		return http.StatusConflict, errorBody{Error: "Your cart changed while updating, please try again.", Code: "concurrent_update", Retryable: true}
	}

	return http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "status", status)
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorBody{Error: message, Code: code})
}
