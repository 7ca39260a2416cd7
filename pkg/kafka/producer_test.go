package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"agriconnect/pkg/logger"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriters(w, nil, "appointments.events", "", logger.Discard())

	msg := NewMessage().
		WithKey("a1").
		WithValue(map[string]string{"appointmentId": "a1"}).
		WithEventType("appointment.requested").
		WithSource("appointments").
		Build()

	if err := p.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("written = %d, want 1", len(w.messages))
	}
	got := w.messages[0]
	if string(got.Key) != "a1" {
		t.Errorf("key = %q", got.Key)
	}
	if header(got, HeaderEventType) != "appointment.requested" {
		t.Errorf("event-type header = %q", header(got, HeaderEventType))
	}
	if header(got, HeaderEventID) == "" {
		t.Errorf("event-id header missing")
	}
}

func TestProducer_RejectsInvalidMessages(t *testing.T) {
	p := NewProducerWithWriters(&fakeWriter{}, nil, "t", "", logger.Discard())

	if err := p.Publish(context.Background(), NewMessage().WithValue("x").Build()); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("missing key error = %v", err)
	}
	if err := p.Publish(context.Background(), NewMessage().WithKey("k").Build()); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("missing value error = %v", err)
	}
	if err := p.Publish(context.Background(), NewMessage().WithKey("k").WithValue(func() {}).Build()); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("unencodable value error = %v", err)
	}
}

func TestProducer_DivertsFailuresToDLQ(t *testing.T) {
	writeErr := errors.New("leader not available")
	w := &fakeWriter{err: writeErr}
	dlq := &fakeWriter{}
	p := NewProducerWithWriters(w, dlq, "appointments.events", "dlq-appointments", logger.Discard())

	msg := NewMessage().WithKey("a1").WithValue("payload").Build()
	err := p.Publish(context.Background(), msg)
	if !errors.Is(err, writeErr) {
		t.Fatalf("Publish error = %v, want %v", err, writeErr)
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("dlq written = %d, want 1", len(dlq.messages))
	}
	if got := header(dlq.messages[0], HeaderOriginalTopic); got != "appointments.events" {
		t.Errorf("original-topic = %q", got)
	}
	if _, ok := msg.Headers[HeaderDLQError]; ok {
		t.Errorf("caller's headers must not be mutated")
	}
}

func TestProducer_Middleware(t *testing.T) {
	p := NewProducerWithWriters(&fakeWriter{}, nil, "t", "", logger.Discard())

	var order []string
	p.Use(func(ctx context.Context, msg Message, next func(context.Context, Message) error) error {
		order = append(order, "first")
		return next(ctx, msg)
	})
	p.Use(func(ctx context.Context, msg Message, next func(context.Context, Message) error) error {
		order = append(order, "second:"+msg.Topic)
		return next(ctx, msg)
	})

	if err := p.Publish(context.Background(), NewMessage().WithKey("k").WithValue(1).Build()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second:t" {
		t.Errorf("middleware order = %v", order)
	}
}

func TestProducer_Close(t *testing.T) {
	w, dlq := &fakeWriter{}, &fakeWriter{}
	p := NewProducerWithWriters(w, dlq, "t", "d", logger.Discard())

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if w.closed != 1 || dlq.closed != 1 {
		t.Errorf("closed counts = %d/%d, want 1/1", w.closed, dlq.closed)
	}
	if err := p.Publish(context.Background(), NewMessage().WithKey("k").WithValue(1).Build()); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("publish after close = %v", err)
	}
}
