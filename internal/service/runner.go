package service

import (
	"context"
	"fmt"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/google/uuid"
)

// Runner orchestrates one firing of an automation: dedup on creation, fire
// time computation, condition re-evaluation at fire time, admission
// control, and the ordered action-step sequence. Executions move
// pending → scheduled → running → {completed, failed}, with skipped
// reachable from pending/scheduled when the condition or admission check
// fails at fire time. Terminal executions are never re-entered.
type Runner struct {
	registry   *Registry
	execRepo   domain.ExecutionRepository
	admissions domain.AdmissionStore
	directory  domain.RecipientDirectory
	dispatcher *Dispatcher
	evaluator  *ConditionEvaluator
	logger     logger.Logger

	maxAttempts int
	now         func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithMaxAttempts overrides the infrastructure-failure retry bound
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) { r.maxAttempts = n }
}

// WithClock overrides the runner's clock. Intended for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a new execution runner
func NewRunner(
	registry *Registry,
	execRepo domain.ExecutionRepository,
	admissions domain.AdmissionStore,
	directory domain.RecipientDirectory,
	dispatcher *Dispatcher,
	evaluator *ConditionEvaluator,
	log logger.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		registry:    registry,
		execRepo:    execRepo,
		admissions:  admissions,
		directory:   directory,
		dispatcher:  dispatcher,
		evaluator:   evaluator,
		logger:      log,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue accepts one trigger match. It creates the execution keyed by the
// idempotency token — a redelivered upstream event dedups silently — then
// either runs it immediately or leaves it for the delay scheduler. Returns
// nil when the match was a duplicate.
func (r *Runner) Enqueue(ctx context.Context, def *domain.AutomationDefinition, event domain.DonorEvent) (*domain.Execution, error) {
	recipientID := event.RecipientID
	if recipientID == "" {
		recipientID = event.RecipientEmail
	}
	recipientKey := domain.RecipientKeyFor(def.ID, recipientID)

	now := r.now()
	fireAt := def.FireTime(event.OccurredAt)

	execution := &domain.Execution{
		ID:             uuid.NewString(),
		AutomationID:   def.ID,
		RecipientKey:   recipientKey,
		RecipientID:    recipientID,
		RecipientEmail: event.RecipientEmail,
		TriggerEventID: event.ID,
		DedupKey:       domain.DedupKeyFor(def.ID, recipientKey, event.ID),
		Status:         domain.ExecutionStatusPending,
		ScheduledFor:   &fireAt,
		NextStepOrder:  def.Steps[0].Order,
		EventPayload:   event.Entity,
		MaxAttempts:    r.maxAttempts,
		CreatedAt:      now,
	}
	if fireAt.After(now) {
		execution.Status = domain.ExecutionStatusScheduled
	}

	inserted, err := r.execRepo.Insert(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	if !inserted {
		r.logger.WithFields(map[string]interface{}{
			"automation_id":    def.ID,
			"trigger_event_id": event.ID,
			"recipient_key":    recipientKey,
		}).Debug("Duplicate trigger event discarded")
		return nil, nil
	}

	r.logger.WithFields(map[string]interface{}{
		"automation_id": def.ID,
		"execution_id":  execution.ID,
		"recipient_key": recipientKey,
		"scheduled_for": fireAt,
	}).Info("Execution created")

	if execution.Status == domain.ExecutionStatusPending {
		// The row must be claimed before the in-process run: a concurrent
		// scheduler sweep would otherwise pick up the same pending row and
		// run it a second time
		claimed, err := r.execRepo.Claim(ctx, execution.ID)
		if err != nil {
			// The row stays pending and the sweep picks it up
			r.logger.WithFields(map[string]interface{}{
				"execution_id": execution.ID,
				"error":        err.Error(),
			}).Warn("Failed to claim execution for immediate run")
			return execution, nil
		}
		if !claimed {
			return execution, nil
		}
		if err := r.Run(ctx, execution); err != nil {
			return execution, err
		}
	}
	return execution, nil
}

// Run processes one due execution to a terminal state, or re-schedules it
// when a wait step or an infrastructure failure defers it.
func (r *Runner) Run(ctx context.Context, execution *domain.Execution) error {
	if execution.Status.IsTerminal() {
		return nil
	}

	def := r.registry.Get(execution.AutomationID)
	if def == nil {
		return r.handleMissingDefinition(ctx, execution)
	}

	now := r.now()
	execution.Status = domain.ExecutionStatusRunning
	if execution.StartedAt == nil {
		execution.StartedAt = &now
	}

	firstRun := execution.NextStepOrder == def.Steps[0].Order && len(execution.StepResults) == 0

	// Conditions are re-evaluated against the current recipient state, not
	// the snapshot taken at match time: state may have changed during the
	// delay window and a stale match must not fire.
	profile, err := r.directory.GetProfile(ctx, execution.RecipientID)
	if err != nil {
		return r.handleInfraError(ctx, execution, err, "failed to load recipient profile")
	}

	if firstRun {
		doc := entityDocument(execution.EventPayload, profile)
		matched, err := r.evaluator.Matches(doc, def.Conditions)
		if err != nil {
			return r.markSkipped(ctx, execution, fmt.Sprintf("condition evaluation failed: %s", err.Error()))
		}
		if !matched {
			return r.markSkipped(ctx, execution, "condition no longer met")
		}

		decision, err := r.admissions.TryAdmit(ctx, def, execution.RecipientKey, now)
		if err != nil {
			return r.handleInfraError(ctx, execution, err, "admission check failed")
		}
		if !decision.Admitted {
			if decision.Reason == domain.RejectReasonMaxExecutionsReached {
				if total, terr := r.admissions.TotalExecutions(ctx, def.ID); terr == nil {
					r.logger.WithFields(map[string]interface{}{
						"automation_id":    def.ID,
						"total_executions": total,
					}).Info("Automation reached its execution cap")
				}
			}
			return r.markSkipped(ctx, execution, string(decision.Reason))
		}
	}

	return r.runSteps(ctx, def, execution, profile)
}

// runSteps executes the remaining action steps in ascending order
func (r *Runner) runSteps(ctx context.Context, def *domain.AutomationDefinition, execution *domain.Execution, profile *domain.RecipientProfile) error {
	steps := def.StepsFrom(execution.NextStepOrder)

	for i := range steps {
		step := &steps[i]

		output, err := r.dispatcher.ExecuteStep(ctx, StepParams{
			Definition: def,
			Execution:  execution,
			Step:       step,
			Profile:    profile,
		})

		if err != nil {
			errStr := err.Error()
			execution.StepResults = append(execution.StepResults, domain.StepResult{
				StepOrder: step.Order,
				Outcome:   domain.StepOutcomeFailed,
				Error:     &errStr,
			})

			if step.IsRequired() {
				reason := fmt.Sprintf("required step %d (%s) failed: %s", step.Order, step.Type, errStr)
				return r.markFailed(ctx, execution, reason)
			}
		} else {
			execution.StepResults = append(execution.StepResults, domain.StepResult{
				StepOrder: step.Order,
				Outcome:   domain.StepOutcomeOK,
			})

			// A wait step defers the remainder of the sequence without
			// holding a worker or consuming another admission slot
			if output != nil && output.ResumeAt != nil && i+1 < len(steps) {
				execution.NextStepOrder = steps[i+1].Order
				execution.Status = domain.ExecutionStatusScheduled
				execution.ScheduledFor = output.ResumeAt

				if err := r.execRepo.Update(ctx, execution); err != nil {
					return fmt.Errorf("failed to re-schedule execution after wait step: %w", err)
				}

				r.logger.WithFields(map[string]interface{}{
					"automation_id": execution.AutomationID,
					"execution_id":  execution.ID,
					"resume_at":     *output.ResumeAt,
				}).Info("Execution deferred by wait step")
				return nil
			}
		}

		// Checkpoint the progress so a claim-sweep reclaim resumes after the
		// steps that already ran instead of repeating their side effects
		if i+1 < len(steps) {
			execution.NextStepOrder = steps[i+1].Order
			if upErr := r.execRepo.Update(ctx, execution); upErr != nil {
				r.logger.WithFields(map[string]interface{}{
					"execution_id": execution.ID,
					"error":        upErr.Error(),
				}).Warn("Failed to checkpoint execution progress")
			}
		}
	}

	return r.markCompleted(ctx, execution)
}

// handleMissingDefinition deals with executions whose definition is no
// longer in the active snapshot. Paused definitions freeze their scheduled
// executions; archived or deleted ones skip them.
func (r *Runner) handleMissingDefinition(ctx context.Context, execution *domain.Execution) error {
	def, err := r.registry.repo.GetByID(ctx, execution.AutomationID)
	if err != nil {
		return r.handleInfraError(ctx, execution, err, "failed to load automation definition")
	}

	if def != nil && def.Status == domain.AutomationStatusPaused {
		// Frozen, not cancelled: the execution stays scheduled and runs
		// when the automation is resumed
		execution.Status = domain.ExecutionStatusScheduled
		return r.execRepo.Update(ctx, execution)
	}

	return r.markSkipped(ctx, execution, "automation no longer active")
}

// handleInfraError deals with infrastructure failures (store or
// collaborator unavailable). The execution is never guessed into a terminal
// state: it goes back to scheduled with exponential backoff until the
// attempt budget is exhausted.
func (r *Runner) handleInfraError(ctx context.Context, execution *domain.Execution, err error, context string) error {
	execution.AttemptCount++
	errStr := fmt.Sprintf("%s: %s", context, err.Error())
	execution.LastError = &errStr

	if execution.AttemptCount >= execution.MaxAttempts {
		r.logger.WithFields(map[string]interface{}{
			"automation_id": execution.AutomationID,
			"execution_id":  execution.ID,
			"attempts":      execution.AttemptCount,
			"error":         errStr,
		}).Error("Execution failed after max attempts")
		return r.markFailed(ctx, execution, errStr)
	}

	// Exponential backoff: 1min, 2min, 4min, ...
	backoff := time.Duration(1<<uint(execution.AttemptCount-1)) * time.Minute
	nextRetry := r.now().Add(backoff)
	execution.Status = domain.ExecutionStatusScheduled
	execution.ScheduledFor = &nextRetry

	r.logger.WithFields(map[string]interface{}{
		"automation_id": execution.AutomationID,
		"execution_id":  execution.ID,
		"attempts":      execution.AttemptCount,
		"next_retry":    nextRetry,
		"error":         errStr,
	}).Warn("Execution deferred after infrastructure error")

	if updateErr := r.execRepo.Update(ctx, execution); updateErr != nil {
		return fmt.Errorf("failed to defer execution: %w", updateErr)
	}
	return nil
}

func (r *Runner) markCompleted(ctx context.Context, execution *domain.Execution) error {
	now := r.now()
	execution.Status = domain.ExecutionStatusCompleted
	execution.CompletedAt = &now

	r.logger.WithFields(map[string]interface{}{
		"automation_id": execution.AutomationID,
		"execution_id":  execution.ID,
		"recipient_key": execution.RecipientKey,
	}).Info("Execution completed")

	return r.execRepo.Update(ctx, execution)
}

func (r *Runner) markFailed(ctx context.Context, execution *domain.Execution, reason string) error {
	now := r.now()
	execution.Status = domain.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.FailureReason = &reason

	r.logger.WithFields(map[string]interface{}{
		"automation_id": execution.AutomationID,
		"execution_id":  execution.ID,
		"reason":        reason,
	}).Error("Execution failed")

	return r.execRepo.Update(ctx, execution)
}

func (r *Runner) markSkipped(ctx context.Context, execution *domain.Execution, reason string) error {
	now := r.now()
	execution.Status = domain.ExecutionStatusSkipped
	execution.CompletedAt = &now
	execution.FailureReason = &reason

	r.logger.WithFields(map[string]interface{}{
		"automation_id": execution.AutomationID,
		"execution_id":  execution.ID,
		"reason":        reason,
	}).Info("Execution skipped")

	return r.execRepo.Update(ctx, execution)
}
