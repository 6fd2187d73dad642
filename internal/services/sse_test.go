package services

import (
	"testing"
	"time"

	"github.com/civictriage/backend/internal/models"
)

func TestEventHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewEventHub()
	if hub.ClientCount() != 0 {
		t.Errorf("new hub should have 0 clients, got %d", hub.ClientCount())
	}

	hub.Subscribe("client1")
	hub.Subscribe("client2")
	if hub.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("client1")
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unsubscribe, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("nonexistent")
	if hub.ClientCount() != 1 {
		t.Errorf("unsubscribing nonexistent should not affect count, got %d", hub.ClientCount())
	}
}

func TestEventHub_PublishMultipleClients(t *testing.T) {
	hub := NewEventHub()
	ch1 := hub.Subscribe("client1")
	ch2 := hub.Subscribe("client2")

	sev := models.SeverityHigh
	hub.Publish(IssueEvent{Type: EventIssueClassified, IssueID: "abc", Severity: &sev})

	for i, ch := range []<-chan IssueEvent{ch1, ch2} {
		select {
		case received := <-ch:
			if received.IssueID != "abc" || received.Type != EventIssueClassified {
				t.Errorf("client%d: event = %+v", i+1, received)
			}
			if received.Severity == nil || *received.Severity != models.SeverityHigh {
				t.Errorf("client%d: severity = %v, expected High", i+1, received.Severity)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client%d: timed out waiting for event", i+1)
		}
	}
}

func TestEventHub_NonBlockingPublish(t *testing.T) {
	hub := NewEventHub()
	hub.Subscribe("slow_client")

	for i := 0; i < 200; i++ {
		hub.Publish(IssueEvent{Type: EventIssueUpdated})
	}
}

func TestEventHub_ClosedOnUnsubscribe(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe("client1")
	hub.Unsubscribe("client1")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestPublish_NilPublisher(t *testing.T) {
	// must not panic
	publish(nil, IssueEvent{Type: EventIssueCreated})
}
