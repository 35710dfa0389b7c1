package domain

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDonorEvent_Validate(t *testing.T) {
	valid := func() *DonorEvent {
		return &DonorEvent{
			ID:          "evt-1",
			Kind:        EventDonationCompleted,
			OccurredAt:  time.Now().UTC(),
			RecipientID: "donor-1",
			Entity:      json.RawMessage(`{"amount": 50}`),
		}
	}

	require.NoError(t, valid().Validate())

	t.Run("missing recipient", func(t *testing.T) {
		e := valid()
		e.RecipientID = ""
		assert.ErrorContains(t, e.Validate(), "recipient_id is required")
	})

	t.Run("zero occurred_at", func(t *testing.T) {
		e := valid()
		e.OccurredAt = time.Time{}
		assert.ErrorContains(t, e.Validate(), "occurred_at is required")
	})
}

func TestIsValidEventKind(t *testing.T) {
	assert.True(t, IsValidEventKind("donation.completed"))
	assert.True(t, IsValidEventKind("campaign.milestone_reached"))

	// schedule.tick is synthesized internally, triggers cannot listen for it
	assert.False(t, IsValidEventKind("schedule.tick"))
	assert.False(t, IsValidEventKind("donation.reversed"))
}

func TestInMemoryEventBus(t *testing.T) {
	t.Run("delivers to subscribers of the kind", func(t *testing.T) {
		bus := NewInMemoryEventBus()

		var wg sync.WaitGroup
		wg.Add(2)
		var mu sync.Mutex
		var received []string

		handler := func(_ context.Context, event DonorEvent) {
			mu.Lock()
			received = append(received, event.ID)
			mu.Unlock()
			wg.Done()
		}
		bus.Subscribe(EventDonationCompleted, handler)
		bus.Subscribe(EventDonationCompleted, handler)

		bus.Publish(context.Background(), DonorEvent{ID: "evt-1", Kind: EventDonationCompleted})

		wg.Wait()
		assert.Equal(t, []string{"evt-1", "evt-1"}, received)
	})

	t.Run("other kinds are not delivered", func(t *testing.T) {
		bus := NewInMemoryEventBus()

		delivered := make(chan struct{}, 1)
		bus.Subscribe(EventDonorCreated, func(_ context.Context, _ DonorEvent) {
			delivered <- struct{}{}
		})

		bus.Publish(context.Background(), DonorEvent{ID: "evt-1", Kind: EventDonationCompleted})

		select {
		case <-delivered:
			t.Fatal("handler for a different kind should not fire")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
