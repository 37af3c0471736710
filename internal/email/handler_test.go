package email

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMux() (*Handler, *http.ServeMux) {
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), WithLatency(nil))
	mux := http.NewServeMux()
	handler.Register(mux)
	return handler, mux
}

func send(mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_HandleSend(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "valid message", body: `{"to":"ana@example.com","subject":"Hi","body":"hello"}`, wantStatus: http.StatusOK},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "missing recipient", body: `{"subject":"Hi"}`, wantStatus: http.StatusBadRequest, wantError: "to is required"},
		{name: "missing subject", body: `{"to":"ana@example.com"}`, wantStatus: http.StatusBadRequest, wantError: "subject is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := newTestMux()

			rec := send(mux, tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantError == "" {
				return
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.wantError {
				t.Errorf("expected %q, got %q", tt.wantError, resp["error"])
			}
		})
	}
}

func TestHandler_HandleSent(t *testing.T) {
	t.Run("lists sent messages filtered by recipient", func(t *testing.T) {
		_, mux := newTestMux()
		send(mux, `{"to":"ana@example.com","subject":"one"}`)
		send(mux, `{"to":"ben@example.com","subject":"two"}`)
		send(mux, `{"to":"ana@example.com","subject":"three"}`)
		send(mux, `{"subject":"rejected"}`)

		req := httptest.NewRequest(http.MethodGet, "/sent?to=ana@example.com", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		var messages []Message
		if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		if messages[0].Subject != "one" || messages[1].Subject != "three" {
			t.Errorf("unexpected order: %+v", messages)
		}
	})

	t.Run("outbox keeps the most recent messages", func(t *testing.T) {
		handler, mux := newTestMux()
		for i := range outboxLimit + 5 {
			send(mux, fmt.Sprintf(`{"to":"ana@example.com","subject":"msg-%d"}`, i))
		}

		handler.mu.Lock()
		defer handler.mu.Unlock()
		if len(handler.outbox) != outboxLimit {
			t.Fatalf("expected %d messages, got %d", outboxLimit, len(handler.outbox))
		}
		if handler.outbox[0].Subject != "msg-5" {
			t.Errorf("expected oldest kept to be msg-5, got %s", handler.outbox[0].Subject)
		}
	})
}
