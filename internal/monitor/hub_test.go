package monitor

import (
	"log/slog"
	"testing"
	"time"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	hub := NewHub(slog.Default())

	events, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(TurnEvent{UserID: "237650000001", Turn: 1, Decision: "confirm"})

	select {
	case event := <-events:
		if event.UserID != "237650000001" || event.Decision != "confirm" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be populated")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	t.Parallel()
	hub := NewHub(slog.Default())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(TurnEvent{Turn: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without subscribers")
	}
}

func TestHubDropsEventsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(slog.Default())

	_, cancel := hub.Subscribe()
	defer cancel()

	// Flood well past the buffer; publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(TurnEvent{Turn: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestSubscribeCancelRemovesSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(slog.Default())

	_, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", hub.Subscribers())
	}
}
