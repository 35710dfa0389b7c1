package domain

import (
	"context"
	"fmt"
	"time"
)

//go:generate mockgen -destination mocks/mock_automation_repository.go -package mocks github.com/donorflow/donorflow/internal/domain AutomationRepository

// AutomationStatus represents the lifecycle status of an automation definition
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"
	AutomationStatusActive   AutomationStatus = "active"
	AutomationStatusPaused   AutomationStatus = "paused"
	AutomationStatusArchived AutomationStatus = "archived"
)

// IsValid checks if the automation status is valid
func (s AutomationStatus) IsValid() bool {
	switch s {
	case AutomationStatusDraft, AutomationStatusActive, AutomationStatusPaused, AutomationStatusArchived:
		return true
	default:
		return false
	}
}

// TriggerType defines what makes a definition eligible to fire
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
)

// IsValid checks if the trigger type is valid
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerTypeEvent, TriggerTypeSchedule:
		return true
	default:
		return false
	}
}

// DelayType defines how the fire time is computed from the trigger time
type DelayType string

const (
	DelayTypeImmediate         DelayType = "immediate"
	DelayTypeRelativeToTrigger DelayType = "relative_to_trigger"
	DelayTypeFixedTimeOfDay    DelayType = "fixed_time_of_day"
)

// IsValid checks if the delay type is valid
func (d DelayType) IsValid() bool {
	switch d {
	case DelayTypeImmediate, DelayTypeRelativeToTrigger, DelayTypeFixedTimeOfDay:
		return true
	default:
		return false
	}
}

// ActionType represents the kind of side effect an action step performs.
// The set is closed: adding a kind is an explicit extension with its own
// step handler.
type ActionType string

const (
	ActionTypeSendMessage      ActionType = "send_message"
	ActionTypeUpdateRecipient  ActionType = "update_recipient"
	ActionTypeEmitNotification ActionType = "emit_notification"
	ActionTypeAddTag           ActionType = "add_tag"
	ActionTypeWait             ActionType = "wait"
)

// IsValid checks if the action type is valid
func (t ActionType) IsValid() bool {
	switch t {
	case ActionTypeSendMessage, ActionTypeUpdateRecipient,
		ActionTypeEmitNotification, ActionTypeAddTag, ActionTypeWait:
		return true
	default:
		return false
	}
}

// EventTriggerConfig configures an event-typed trigger: the event name to
// listen for plus a filter over the event's entity payload. The filter uses
// the same operator set as conditions.
type EventTriggerConfig struct {
	EventName string        `json:"event_name"`
	Filter    ConditionList `json:"filter,omitempty"`
}

// Validate validates the event trigger configuration
func (c *EventTriggerConfig) Validate() error {
	if c.EventName == "" {
		return fmt.Errorf("event_name is required")
	}
	if !IsValidEventKind(c.EventName) {
		return fmt.Errorf("invalid event name: %s", c.EventName)
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	return nil
}

// ScheduleFrequency defines how often a schedule-typed trigger fires
type ScheduleFrequency string

const (
	ScheduleFrequencyDaily   ScheduleFrequency = "daily"
	ScheduleFrequencyWeekly  ScheduleFrequency = "weekly"
	ScheduleFrequencyMonthly ScheduleFrequency = "monthly"
)

// IsValid checks if the schedule frequency is valid
func (f ScheduleFrequency) IsValid() bool {
	switch f {
	case ScheduleFrequencyDaily, ScheduleFrequencyWeekly, ScheduleFrequencyMonthly:
		return true
	default:
		return false
	}
}

// ScheduleTriggerConfig configures a schedule-typed trigger. AudienceKey
// names the recipient set computed by the audience collaborator; the engine
// consumes the set, it never computes it.
type ScheduleTriggerConfig struct {
	Frequency   ScheduleFrequency `json:"frequency"`
	Hour        int               `json:"hour"`
	Minute      int               `json:"minute"`
	Weekday     *int              `json:"weekday,omitempty"`   // 0=Sunday, required for weekly
	MonthDay    *int              `json:"month_day,omitempty"` // 1-28, required for monthly
	AudienceKey string            `json:"audience_key"`
}

// Validate validates the schedule trigger configuration
func (c *ScheduleTriggerConfig) Validate() error {
	if !c.Frequency.IsValid() {
		return fmt.Errorf("invalid schedule frequency: %s", c.Frequency)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23")
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("minute must be between 0 and 59")
	}
	if c.Frequency == ScheduleFrequencyWeekly {
		if c.Weekday == nil || *c.Weekday < 0 || *c.Weekday > 6 {
			return fmt.Errorf("weekday between 0 and 6 is required for weekly schedules")
		}
	}
	if c.Frequency == ScheduleFrequencyMonthly {
		// Capped at 28 so the slot exists in every month
		if c.MonthDay == nil || *c.MonthDay < 1 || *c.MonthDay > 28 {
			return fmt.Errorf("month_day between 1 and 28 is required for monthly schedules")
		}
	}
	if c.AudienceKey == "" {
		return fmt.Errorf("audience_key is required")
	}
	return nil
}

// NextOccurrence returns the first schedule slot strictly after the given time
func (c *ScheduleTriggerConfig) NextOccurrence(after time.Time) time.Time {
	after = after.UTC()
	slot := time.Date(after.Year(), after.Month(), after.Day(), c.Hour, c.Minute, 0, 0, time.UTC)

	switch c.Frequency {
	case ScheduleFrequencyDaily:
		if !slot.After(after) {
			slot = slot.AddDate(0, 0, 1)
		}
	case ScheduleFrequencyWeekly:
		offset := (*c.Weekday - int(slot.Weekday()) + 7) % 7
		slot = slot.AddDate(0, 0, offset)
		if !slot.After(after) {
			slot = slot.AddDate(0, 0, 7)
		}
	case ScheduleFrequencyMonthly:
		slot = time.Date(after.Year(), after.Month(), *c.MonthDay, c.Hour, c.Minute, 0, 0, time.UTC)
		if !slot.After(after) {
			slot = slot.AddDate(0, 1, 0)
		}
	}
	return slot
}

// FiresWithin reports whether a schedule slot falls in (from, to] and
// returns that slot. The slot identifies the tick for dedup purposes, so
// redelivered or overlapping ticks synthesize the same trigger event.
func (c *ScheduleTriggerConfig) FiresWithin(from, to time.Time) (time.Time, bool) {
	slot := c.NextOccurrence(from)
	if slot.After(to) {
		return time.Time{}, false
	}
	return slot, true
}

// TriggerConfig holds the trigger parameters for one definition. Exactly one
// of Event or Schedule is set, matching the definition's TriggerType.
type TriggerConfig struct {
	Event    *EventTriggerConfig    `json:"event,omitempty"`
	Schedule *ScheduleTriggerConfig `json:"schedule,omitempty"`
}

// ActionStep is one unit of side effect within a definition's ordered
// sequence. Required overrides the default policy when set; the default is
// that send_message is required and everything else is best-effort.
type ActionStep struct {
	Order    int                    `json:"order"`
	Type     ActionType             `json:"type"`
	Config   map[string]interface{} `json:"config"`
	Required *bool                  `json:"required,omitempty"`
}

// Validate validates the action step
func (s *ActionStep) Validate() error {
	if s.Order < 0 {
		return fmt.Errorf("order cannot be negative")
	}
	if !s.Type.IsValid() {
		return fmt.Errorf("invalid action type: %s", s.Type)
	}
	if s.Config == nil {
		return fmt.Errorf("config is required")
	}
	return nil
}

// IsRequired reports whether a failure of this step halts the sequence
func (s *ActionStep) IsRequired() bool {
	if s.Required != nil {
		return *s.Required
	}
	return s.Type == ActionTypeSendMessage
}

// AutomationDefinition is a declarative engagement rule: a trigger, an
// optional condition expression, an ordered action sequence, and the
// delay/cap/cooldown parameters governing when and how often it fires.
// Definitions are owned by the authoring system; the engine holds a
// read-only cached copy and only ever matches active ones.
type AutomationDefinition struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Status               AutomationStatus `json:"status"`
	TriggerType          TriggerType      `json:"trigger_type"`
	Trigger              *TriggerConfig   `json:"trigger"`
	Conditions           ConditionList    `json:"conditions,omitempty"`
	Steps                []ActionStep     `json:"steps"`
	DelayMinutes         int              `json:"delay_minutes"`
	DelayType            DelayType        `json:"delay_type"`
	TimeOfDay            *string          `json:"time_of_day,omitempty"` // "HH:MM", required for fixed_time_of_day
	MaxExecutions        *int             `json:"max_executions,omitempty"`
	CooldownHours        *float64         `json:"cooldown_hours,omitempty"`
	CancelPendingOnPause bool             `json:"cancel_pending_on_pause"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Validate validates the automation definition
func (a *AutomationDefinition) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(a.ID) > 36 {
		return fmt.Errorf("id cannot exceed 36 characters")
	}

	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(a.Name) > 255 {
		return fmt.Errorf("name cannot exceed 255 characters")
	}

	if !a.Status.IsValid() {
		return fmt.Errorf("invalid automation status: %s", a.Status)
	}

	if !a.TriggerType.IsValid() {
		return fmt.Errorf("invalid trigger type: %s", a.TriggerType)
	}

	if a.Trigger == nil {
		return fmt.Errorf("trigger configuration is required")
	}
	switch a.TriggerType {
	case TriggerTypeEvent:
		if a.Trigger.Event == nil {
			return fmt.Errorf("event trigger configuration is required")
		}
		if err := a.Trigger.Event.Validate(); err != nil {
			return err
		}
	case TriggerTypeSchedule:
		if a.Trigger.Schedule == nil {
			return fmt.Errorf("schedule trigger configuration is required")
		}
		if err := a.Trigger.Schedule.Validate(); err != nil {
			return err
		}
	}

	if err := a.Conditions.Validate(); err != nil {
		return err
	}

	if len(a.Steps) == 0 {
		return fmt.Errorf("at least one action step is required")
	}
	lastOrder := -1
	for i := range a.Steps {
		if err := a.Steps[i].Validate(); err != nil {
			return fmt.Errorf("invalid step at index %d: %w", i, err)
		}
		if a.Steps[i].Order <= lastOrder {
			return fmt.Errorf("step orders must be unique and strictly increasing")
		}
		lastOrder = a.Steps[i].Order
	}

	if a.DelayMinutes < 0 {
		return fmt.Errorf("delay_minutes cannot be negative")
	}
	if !a.DelayType.IsValid() {
		return fmt.Errorf("invalid delay type: %s", a.DelayType)
	}
	if a.DelayType == DelayTypeImmediate && a.DelayMinutes != 0 {
		return fmt.Errorf("delay_minutes must be 0 for immediate delay type")
	}
	if a.DelayType == DelayTypeFixedTimeOfDay {
		if a.TimeOfDay == nil {
			return fmt.Errorf("time_of_day is required for fixed_time_of_day delay type")
		}
		if _, _, err := parseTimeOfDay(*a.TimeOfDay); err != nil {
			return err
		}
	}

	if a.MaxExecutions != nil && *a.MaxExecutions < 0 {
		return fmt.Errorf("max_executions cannot be negative")
	}
	if a.CooldownHours != nil && *a.CooldownHours < 0 {
		return fmt.Errorf("cooldown_hours cannot be negative")
	}

	return nil
}

// StepAt returns the step with the given order, or nil
func (a *AutomationDefinition) StepAt(order int) *ActionStep {
	for i := range a.Steps {
		if a.Steps[i].Order == order {
			return &a.Steps[i]
		}
	}
	return nil
}

// StepsFrom returns the steps with order >= from, in ascending order
func (a *AutomationDefinition) StepsFrom(from int) []ActionStep {
	var steps []ActionStep
	for i := range a.Steps {
		if a.Steps[i].Order >= from {
			steps = append(steps, a.Steps[i])
		}
	}
	return steps
}

// FireTime computes when an execution triggered at eventTime should run
func (a *AutomationDefinition) FireTime(eventTime time.Time) time.Time {
	eventTime = eventTime.UTC()
	switch a.DelayType {
	case DelayTypeImmediate:
		return eventTime
	case DelayTypeRelativeToTrigger:
		return eventTime.Add(time.Duration(a.DelayMinutes) * time.Minute)
	case DelayTypeFixedTimeOfDay:
		earliest := eventTime.Add(time.Duration(a.DelayMinutes) * time.Minute)
		hour, minute, err := parseTimeOfDay(*a.TimeOfDay)
		if err != nil {
			return earliest
		}
		slot := time.Date(earliest.Year(), earliest.Month(), earliest.Day(), hour, minute, 0, 0, time.UTC)
		if slot.Before(earliest) {
			slot = slot.AddDate(0, 0, 1)
		}
		return slot
	}
	return eventTime
}

// CooldownWindow returns the per-recipient cooldown duration, or 0 when
// the definition has no cooldown configured
func (a *AutomationDefinition) CooldownWindow() time.Duration {
	if a.CooldownHours == nil {
		return 0
	}
	return time.Duration(*a.CooldownHours * float64(time.Hour))
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time_of_day %q: expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q: out of range", s)
	}
	return hour, minute, nil
}

// AutomationRepository is the read side of the authoring store. The engine
// never writes definitions; pause/archive flow through the authoring system
// and surface here on the next registry refresh.
type AutomationRepository interface {
	GetByID(ctx context.Context, id string) (*AutomationDefinition, error)
	ListByStatus(ctx context.Context, status AutomationStatus) ([]*AutomationDefinition, error)
}
