package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

//go:generate mockgen -destination mocks/mock_event_bus.go -package mocks github.com/donorflow/donorflow/internal/domain EventBus

// EventKind defines the type of a domain event
type EventKind string

// Domain events the engine can subscribe to
const (
	EventDonationCompleted EventKind = "donation.completed"
	EventDonationRefunded  EventKind = "donation.refunded"
	EventDonationRecurring EventKind = "donation.recurring_charged"
	EventDonorCreated      EventKind = "donor.created"
	EventDonorUpdated      EventKind = "donor.updated"
	EventCampaignMilestone EventKind = "campaign.milestone_reached"
	EventCampaignLaunched  EventKind = "campaign.launched"
	EventScheduleTick      EventKind = "schedule.tick"
)

// ValidEventKinds lists all event kinds a trigger may listen for.
// schedule.tick is synthesized internally and is not subscribable.
var ValidEventKinds = []EventKind{
	EventDonationCompleted, EventDonationRefunded, EventDonationRecurring,
	EventDonorCreated, EventDonorUpdated,
	EventCampaignMilestone, EventCampaignLaunched,
}

// IsValidEventKind checks if the given event kind can be used as a trigger
func IsValidEventKind(kind string) bool {
	for _, k := range ValidEventKinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// DonorEvent is one occurrence on the domain event stream: a donation
// completed, a donor record changed, a campaign crossed a milestone. The
// entity payload carries the attributes condition expressions evaluate
// against. ID is the upstream event's own unique identifier and feeds the
// idempotency token, so a redelivered event dedups to the same execution.
type DonorEvent struct {
	ID             string          `json:"id"`
	Kind           EventKind       `json:"kind"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecipientID    string          `json:"recipient_id"`
	RecipientEmail string          `json:"recipient_email"`
	Entity         json.RawMessage `json:"entity,omitempty"`
}

// Validate validates the donor event
func (e *DonorEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if e.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// EventHandler is a function that handles domain events
type EventHandler func(ctx context.Context, event DonorEvent)

// EventBus is the consumed event-source interface: webhook receivers,
// pollers and the payment pipeline publish, the trigger evaluator
// subscribes.
type EventBus interface {
	// Publish delivers an event to all subscribers of its kind
	Publish(ctx context.Context, event DonorEvent)

	// Subscribe registers a handler for a specific event kind
	Subscribe(kind EventKind, handler EventHandler)
}

// InMemoryEventBus is a simple in-process implementation of the EventBus
type InMemoryEventBus struct {
	subscribers map[EventKind][]EventHandler
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[EventKind][]EventHandler),
	}
}

// Publish delivers the event to every handler subscribed to its kind.
// Handlers run on their own goroutines so a slow consumer never blocks the
// publisher or sibling handlers.
func (b *InMemoryEventBus) Publish(ctx context.Context, event DonorEvent) {
	b.mu.RLock()
	handlers := b.subscribers[event.Kind]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			h(ctx, event)
		}(handler)
	}
}

// Subscribe registers a handler for a specific event kind
func (b *InMemoryEventBus) Subscribe(kind EventKind, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}
