package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
)

// registrySnapshot is one immutable view of the active definitions. Readers
// always observe a complete snapshot, never a partially refreshed one.
type registrySnapshot struct {
	byID        map[string]*domain.AutomationDefinition
	byEventName map[string][]*domain.AutomationDefinition
	scheduled   []*domain.AutomationDefinition
	invalid     map[string]string // definition id -> validation error
	refreshedAt time.Time
}

func emptySnapshot() *registrySnapshot {
	return &registrySnapshot{
		byID:        make(map[string]*domain.AutomationDefinition),
		byEventName: make(map[string][]*domain.AutomationDefinition),
		invalid:     make(map[string]string),
	}
}

// Registry is the in-memory cache of active automation definitions,
// refreshed from the authoring store by a single background loop and read
// by the trigger evaluator. Malformed definitions are quarantined at load
// time without affecting their siblings.
type Registry struct {
	repo     domain.AutomationRepository
	execRepo domain.ExecutionRepository
	logger   logger.Logger
	interval time.Duration

	snapshot atomic.Pointer[registrySnapshot]

	stopChan    chan struct{}
	stoppedChan chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewRegistry creates a new automation registry
func NewRegistry(
	repo domain.AutomationRepository,
	execRepo domain.ExecutionRepository,
	log logger.Logger,
	interval time.Duration,
) *Registry {
	r := &Registry{
		repo:        repo,
		execRepo:    execRepo,
		logger:      log,
		interval:    interval,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
	r.snapshot.Store(emptySnapshot())
	return r
}

// Refresh reloads the definition cache from the authoring store and swaps
// the snapshot atomically. Definitions that fail validation are excluded
// from matching and flagged; the rest are unaffected.
func (r *Registry) Refresh(ctx context.Context) error {
	defs, err := r.repo.ListByStatus(ctx, domain.AutomationStatusActive)
	if err != nil {
		return err
	}

	next := emptySnapshot()
	next.refreshedAt = time.Now().UTC()

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			next.invalid[def.ID] = err.Error()
			r.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"error":         err.Error(),
			}).Warn("Excluding automation with invalid configuration")
			continue
		}

		next.byID[def.ID] = def
		switch def.TriggerType {
		case domain.TriggerTypeEvent:
			name := def.Trigger.Event.EventName
			next.byEventName[name] = append(next.byEventName[name], def)
		case domain.TriggerTypeSchedule:
			next.scheduled = append(next.scheduled, def)
		}
	}

	r.snapshot.Store(next)

	r.cancelPendingForPaused(ctx)

	return nil
}

// cancelPendingForPaused skips the scheduled executions of paused
// definitions that opted into cancel-on-pause. Pausing always stops future
// matches (the definition is no longer active in the snapshot); this
// additionally cancels what was already queued.
func (r *Registry) cancelPendingForPaused(ctx context.Context) {
	paused, err := r.repo.ListByStatus(ctx, domain.AutomationStatusPaused)
	if err != nil {
		r.logger.WithField("error", err.Error()).Warn("Failed to list paused automations")
		return
	}

	for _, def := range paused {
		if !def.CancelPendingOnPause {
			continue
		}
		cancelled, err := r.execRepo.SkipScheduled(ctx, def.ID, "automation paused")
		if err != nil {
			r.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"error":         err.Error(),
			}).Warn("Failed to cancel scheduled executions for paused automation")
			continue
		}
		if cancelled > 0 {
			r.logger.WithFields(map[string]interface{}{
				"automation_id": def.ID,
				"cancelled":     cancelled,
			}).Info("Cancelled scheduled executions for paused automation")
		}
	}
}

// ActiveForEvent returns the active event-typed definitions listening for
// the given event name
func (r *Registry) ActiveForEvent(eventName string) []*domain.AutomationDefinition {
	return r.snapshot.Load().byEventName[eventName]
}

// ActiveScheduled returns the active schedule-typed definitions
func (r *Registry) ActiveScheduled() []*domain.AutomationDefinition {
	return r.snapshot.Load().scheduled
}

// Get returns the active definition with the given id, or nil when the
// definition is unknown, paused, archived or quarantined
func (r *Registry) Get(id string) *domain.AutomationDefinition {
	return r.snapshot.Load().byID[id]
}

// Invalid returns the quarantined definition ids and their validation errors
func (r *Registry) Invalid() map[string]string {
	return r.snapshot.Load().invalid
}

// Start begins the background refresh loop
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("Automation registry already running")
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.WithField("interval", r.interval).Info("Starting automation registry")

	go r.run(ctx)
}

// Stop gracefully stops the refresh loop
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)

	select {
	case <-r.stoppedChan:
		r.logger.Info("Automation registry stopped")
	case <-time.After(5 * time.Second):
		r.logger.Warn("Automation registry stop timeout exceeded")
	}
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Load the cache immediately on start
	if err := r.Refresh(ctx); err != nil {
		r.logger.WithField("error", err.Error()).Error("Initial automation registry refresh failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.WithField("error", err.Error()).Error("Automation registry refresh failed")
			}
		}
	}
}
