package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

var tracingOnce sync.Once

// setupTracing installs a recording provider once; package tracers bind to the first
// global provider they see.
func setupTracing(t *testing.T) {
	t.Helper()

	tracingOnce.Do(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
	})
}

func TestProducer_Publish(t *testing.T) {
	setupTracing(t)

	t.Run("writes keyed JSON with trace context", func(t *testing.T) {
		writer := &fakeWriter{}
		producer := &Producer{writer: writer, topic: "checkout.completed"}

		event := map[string]string{"checkout_id": "chk-1"}
		if err := producer.Publish(context.Background(), "cust-1", event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(writer.msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(writer.msgs))
		}
		msg := writer.msgs[0]
		if string(msg.Key) != "cust-1" {
			t.Errorf("expected key cust-1, got %s", msg.Key)
		}

		var decoded map[string]string
		if err := json.Unmarshal(msg.Value, &decoded); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if decoded["checkout_id"] != "chk-1" {
			t.Errorf("unexpected payload: %v", decoded)
		}

		if (headerCarrier{msg: &msg}).Get("traceparent") == "" {
			t.Error("expected traceparent header")
		}
	})

	t.Run("wraps writer errors", func(t *testing.T) {
		producer := &Producer{writer: &fakeWriter{err: errors.New("no brokers")}, topic: "checkout.completed"}

		err := producer.Publish(context.Background(), "cust-1", map[string]string{})
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestConsumer_Consume(t *testing.T) {
	setupTracing(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("continues the producer trace", func(t *testing.T) {
		writer := &fakeWriter{}
		producer := &Producer{writer: writer, topic: "checkout.completed"}

		ctx, span := otel.Tracer("test").Start(context.Background(), "checkout")
		if err := producer.Publish(ctx, "cust-1", map[string]string{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		span.End()

		reader := &fakeReader{pending: writer.msgs}
		consumer := &Consumer{reader: reader, topic: "checkout.completed", groupID: "test", maxAttempts: 1, logger: logger}

		var got trace.TraceID
		err := consumer.Consume(context.Background(), func(ctx context.Context, _ []byte) error {
			got = trace.SpanContextFromContext(ctx).TraceID()
			return nil
		})
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF once drained, got %v", err)
		}
		if got != span.SpanContext().TraceID() {
			t.Errorf("expected trace %s, got %s", span.SpanContext().TraceID(), got)
		}
	})

	t.Run("retries failures then commits and moves on", func(t *testing.T) {
		reader := &fakeReader{pending: []kafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}}}
		consumer := &Consumer{reader: reader, topic: "t", groupID: "g", maxAttempts: 3, logger: logger}

		calls := map[string]int{}
		_ = consumer.Consume(context.Background(), func(_ context.Context, payload []byte) error {
			calls[string(payload)]++
			if string(payload) == "a" {
				return fmt.Errorf("downstream unavailable")
			}
			return nil
		})

		if calls["a"] != 3 {
			t.Errorf("expected 3 attempts for failing message, got %d", calls["a"])
		}
		if calls["b"] != 1 {
			t.Errorf("expected 1 attempt for good message, got %d", calls["b"])
		}
		if len(reader.committed) != 2 {
			t.Errorf("expected both messages committed, got %v", reader.committed)
		}
	})

	t.Run("discarded messages are not retried", func(t *testing.T) {
		reader := &fakeReader{pending: []kafka.Message{{Offset: 7, Value: []byte("{")}}}
		consumer := &Consumer{reader: reader, topic: "t", groupID: "g", maxAttempts: 5, logger: logger}

		calls := 0
		_ = consumer.Consume(context.Background(), func(context.Context, []byte) error {
			calls++
			return fmt.Errorf("decode: %w", ErrDiscard)
		})

		if calls != 1 {
			t.Errorf("expected a single attempt, got %d", calls)
		}
		if len(reader.committed) != 1 || reader.committed[0] != 7 {
			t.Errorf("expected offset 7 committed, got %v", reader.committed)
		}
	})
}
