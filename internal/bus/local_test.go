package bus

import (
	"context"
	"testing"
	"time"

	"github.com/talkroom/talkroom-server/internal/store"
)

func TestLocalBusPublishSubscribe(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	var first, second []Envelope
	if err := b.Subscribe(ctx, func(env Envelope) { first = append(first, env) }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe(ctx, func(env Envelope) { second = append(second, env) }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	env := Envelope{MessageID: 1, RoomID: 2, UserID: 3, Username: "alice", Body: "hi", SentAt: 1700000000}
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected each handler to fire once, got %d and %d", len(first), len(second))
	}
	if first[0] != env {
		t.Fatalf("handler received %+v, want %+v", first[0], env)
	}
}

func TestLocalBusPublishWithoutSubscribers(t *testing.T) {
	b := NewLocalBus()
	if err := b.Publish(context.Background(), Envelope{MessageID: 1}); err != nil {
		t.Fatalf("Publish on empty bus failed: %v", err)
	}
}

func TestLocalBusCloseStopsDelivery(t *testing.T) {
	b := NewLocalBus()
	ctx := context.Background()

	delivered := 0
	if err := b.Subscribe(ctx, func(Envelope) { delivered++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Publish(ctx, Envelope{MessageID: 1}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Publish(ctx, Envelope{MessageID: 2}); err != nil {
		t.Fatalf("Publish after Close failed: %v", err)
	}

	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
}

func TestEnvelopeMessageConversion(t *testing.T) {
	// Sub-second precision must survive the trip through the envelope.
	msg := &store.Message{
		ID:        7,
		RoomID:    3,
		UserID:    9,
		Username:  "alice",
		Body:      "hi there",
		CreatedAt: time.UnixMilli(1700000000250).UTC(),
	}

	back := FromMessage(msg).ToMessage()

	if back.ID != msg.ID || back.RoomID != msg.RoomID || back.UserID != msg.UserID {
		t.Fatalf("round trip changed identifiers: %+v vs %+v", back, msg)
	}
	if back.Username != msg.Username || back.Body != msg.Body {
		t.Fatalf("round trip changed content: %+v vs %+v", back, msg)
	}
	if !back.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("round trip timestamp %v, want %v", back.CreatedAt, msg.CreatedAt)
	}
}
