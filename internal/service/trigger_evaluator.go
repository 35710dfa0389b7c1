package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
)

// TriggerEvaluator matches incoming domain events and schedule ticks against
// the active definitions and hands every match to the runner. A failure in
// one definition never affects its siblings.
type TriggerEvaluator struct {
	registry  *Registry
	runner    *Runner
	evaluator *ConditionEvaluator
	audience  domain.AudienceSource
	logger    logger.Logger

	now func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// NewTriggerEvaluator creates a new trigger evaluator
func NewTriggerEvaluator(
	registry *Registry,
	runner *Runner,
	evaluator *ConditionEvaluator,
	audience domain.AudienceSource,
	log logger.Logger,
) *TriggerEvaluator {
	return &TriggerEvaluator{
		registry:  registry,
		runner:    runner,
		evaluator: evaluator,
		audience:  audience,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubscribeAll registers the evaluator on the event bus for every
// subscribable event kind
func (t *TriggerEvaluator) SubscribeAll(bus domain.EventBus) {
	for _, kind := range domain.ValidEventKinds {
		bus.Subscribe(kind, t.OnEvent)
	}
}

// OnEvent matches one domain event against the active event-typed
// definitions. The trigger filter is evaluated here against the event's
// entity payload; the definition's conditions are re-evaluated later at
// fire time by the runner.
func (t *TriggerEvaluator) OnEvent(ctx context.Context, event domain.DonorEvent) {
	if err := event.Validate(); err != nil {
		t.logger.WithFields(map[string]interface{}{
			"event_id": event.ID,
			"error":    err.Error(),
		}).Warn("Discarding invalid event")
		return
	}

	for _, def := range t.registry.ActiveForEvent(string(event.Kind)) {
		matched, err := t.evaluator.Matches(event.Entity, def.Trigger.Event.Filter)
		if err != nil {
			t.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"event_id":      event.ID,
				"error":         err.Error(),
			}).Warn("Trigger filter evaluation failed")
			continue
		}
		if !matched {
			continue
		}

		if _, err := t.runner.Enqueue(ctx, def, event); err != nil {
			t.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"event_id":      event.ID,
				"error":         err.Error(),
			}).Error("Failed to enqueue execution for event trigger")
		}
	}
}

// OnTick fires the schedule-typed definitions whose slot elapsed since the
// previous tick. Each audience member gets a synthesized trigger event whose
// id embeds the slot timestamp, so an overlapping or repeated tick dedups to
// the same executions.
func (t *TriggerEvaluator) OnTick(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	from := t.lastTick
	if from.IsZero() {
		from = now.Add(-time.Minute)
	}
	t.lastTick = now
	t.mu.Unlock()

	for _, def := range t.registry.ActiveScheduled() {
		slot, fires := def.Trigger.Schedule.FiresWithin(from, now)
		if !fires {
			continue
		}
		t.fireScheduled(ctx, def, slot)
	}
}

func (t *TriggerEvaluator) fireScheduled(ctx context.Context, def *domain.AutomationDefinition, slot time.Time) {
	audienceKey := def.Trigger.Schedule.AudienceKey

	profiles, err := t.audience.ListAudience(ctx, audienceKey)
	if err != nil {
		t.logger.WithFields(map[string]interface{}{
			"automation_id": def.ID,
			"audience_key":  audienceKey,
			"error":         err.Error(),
		}).Error("Failed to list audience for scheduled trigger")
		return
	}

	t.logger.WithFields(map[string]interface{}{
		"automation_id": def.ID,
		"audience_key":  audienceKey,
		"slot":          slot,
		"recipients":    len(profiles),
	}).Info("Firing scheduled automation")

	for _, profile := range profiles {
		event := domain.DonorEvent{
			ID:             fmt.Sprintf("%s@%s", def.ID, slot.Format(time.RFC3339)),
			Kind:           domain.EventScheduleTick,
			OccurredAt:     slot,
			RecipientID:    profile.ID,
			RecipientEmail: profile.Email,
			Entity:         json.RawMessage(profile.Attributes),
		}

		if _, err := t.runner.Enqueue(ctx, def, event); err != nil {
			t.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"recipient_id":  profile.ID,
				"error":         err.Error(),
			}).Error("Failed to enqueue execution for scheduled trigger")
		}
	}
}
