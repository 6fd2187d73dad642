package services

import (
	"sync"
	"time"

	"github.com/civictriage/backend/internal/metrics"
	"github.com/civictriage/backend/internal/models"
)

// Issue event types pushed to the officer console.
const (
	EventIssueCreated    = "issue.created"
	EventIssueEmbedded   = "issue.embedded"
	EventIssueClassified = "issue.classified"
	EventIssueUpdated    = "issue.updated"
	EventDraftCreated    = "escalation.drafted"
	EventSummaryCreated  = "summary.created"
)

// IssueEvent is a real-time change notification.
type IssueEvent struct {
	Type     string           `json:"type"`
	IssueID  string           `json:"issue_id,omitempty"`
	Status   models.Status    `json:"status,omitempty"`
	Category *models.Category `json:"category,omitempty"`
	Severity *models.Severity `json:"severity,omitempty"`
	At       time.Time        `json:"at"`
}

func issueEvent(eventType string, issue *models.Issue) IssueEvent {
	return IssueEvent{
		Type:     eventType,
		IssueID:  issue.ID,
		Status:   issue.Status,
		Category: issue.Category,
		Severity: issue.Severity,
		At:       time.Now().UTC(),
	}
}

// EventPublisher is the write side of the hub. A nil publisher is allowed
// wherever one is accepted.
type EventPublisher interface {
	Publish(event IssueEvent)
}

// EventHub fans issue events out to connected SSE clients.
type EventHub struct {
	clients map[string]chan IssueEvent
	mu      sync.RWMutex
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]chan IssueEvent),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *EventHub) Subscribe(clientID string) <-chan IssueEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan IssueEvent, 100)
	h.clients[clientID] = ch
	metrics.SSEClients.Set(float64(len(h.clients)))
	return ch
}

func (h *EventHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
	metrics.SSEClients.Set(float64(len(h.clients)))
}

// Publish never blocks; a client whose buffer is full misses the event.
func (h *EventHub) Publish(event IssueEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func publish(p EventPublisher, event IssueEvent) {
	if p != nil {
		p.Publish(event)
	}
}
