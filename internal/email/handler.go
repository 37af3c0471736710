// Package email is a stand-in mail service. It records what it was asked to send and
// exposes the outbox for inspection.
package email

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

const outboxLimit = 100

type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger *slog.Logger
	delay  func() time.Duration

	mu     sync.Mutex
	outbox []Message
}

type Option func(*Handler)

// WithLatency replaces the simulated delivery delay. A nil func disables it.
func WithLatency(delay func() time.Duration) Option {
	return func(h *Handler) {
		h.delay = delay
	}
}

func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		delay: func() time.Duration {
			return time.Duration(50+rand.Intn(151)) * time.Millisecond
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", h.HandleSend)
	mux.HandleFunc("GET /sent", h.HandleSent)
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.To) == "" {
		h.writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	if h.delay != nil {
		select {
		case <-time.After(h.delay()):
		case <-r.Context().Done():
			return
		}
	}

	h.record(Message{To: req.To, Subject: req.Subject, Body: req.Body, SentAt: time.Now().UTC()})

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// HandleSent lists recorded messages, newest last. An optional to query parameter
// filters by recipient.
func (h *Handler) HandleSent(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")

	h.mu.Lock()
	messages := make([]Message, 0, len(h.outbox))
	for _, m := range h.outbox {
		if to == "" || m.To == to {
			messages = append(messages, m)
		}
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) record(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outbox = append(h.outbox, m)
	if len(h.outbox) > outboxLimit {
		h.outbox = h.outbox[len(h.outbox)-outboxLimit:]
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
