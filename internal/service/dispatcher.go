package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/donorflow/donorflow/pkg/render"
	"github.com/donorflow/donorflow/pkg/steperr"
	"github.com/tidwall/gjson"
)

// StepParams carries everything a step handler needs to execute one step
type StepParams struct {
	Definition *domain.AutomationDefinition
	Execution  *domain.Execution
	Step       *domain.ActionStep
	Profile    *domain.RecipientProfile
}

// StepOutput is the successful outcome of a step. ResumeAt is set only by
// wait steps: the runner re-schedules the remainder of the sequence for
// that time instead of blocking a worker.
type StepOutput struct {
	ResumeAt *time.Time
}

// StepHandler executes one action step kind
type StepHandler interface {
	ActionType() domain.ActionType
	Execute(ctx context.Context, params StepParams) (*StepOutput, error)
}

// Dispatcher executes action steps against the external capabilities. Each
// call wears a bounded timeout; transient failures are retried with
// exponential backoff up to a small fixed bound, permanent failures fail
// immediately.
type Dispatcher struct {
	handlers    map[domain.ActionType]StepHandler
	logger      logger.Logger
	stepTimeout time.Duration
	maxRetries  int
	backoffBase time.Duration
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithStepTimeout overrides the per-call timeout
func WithStepTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.stepTimeout = d }
}

// WithRetryPolicy overrides the transient-failure retry bound and backoff base
func WithRetryPolicy(maxRetries int, backoffBase time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.maxRetries = maxRetries
		dp.backoffBase = backoffBase
	}
}

// NewDispatcher creates a dispatcher wired to the external capabilities
func NewDispatcher(
	sender domain.MessageSender,
	directory domain.RecipientDirectory,
	notifier domain.Notifier,
	log logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	handlers := map[domain.ActionType]StepHandler{
		domain.ActionTypeSendMessage:      NewSendMessageHandler(sender),
		domain.ActionTypeUpdateRecipient:  NewUpdateRecipientHandler(directory),
		domain.ActionTypeAddTag:           NewAddTagHandler(directory),
		domain.ActionTypeEmitNotification: NewEmitNotificationHandler(notifier),
		domain.ActionTypeWait:             NewWaitHandler(),
	}

	d := &Dispatcher{
		handlers:    handlers,
		logger:      log,
		stepTimeout: 30 * time.Second,
		maxRetries:  3,
		backoffBase: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteStep runs one step, retrying transient failures with exponential
// backoff. The returned error is the last attempt's failure.
func (d *Dispatcher) ExecuteStep(ctx context.Context, params StepParams) (*StepOutput, error) {
	handler, ok := d.handlers[params.Step.Type]
	if !ok {
		return nil, steperr.Permanent(fmt.Errorf("unsupported action type: %s", params.Step.Type))
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.backoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, d.stepTimeout)
		output, err := handler.Execute(stepCtx, params)
		cancel()

		if err == nil {
			return output, nil
		}
		lastErr = err

		if steperr.IsPermanent(err) {
			return nil, err
		}

		d.logger.WithFields(map[string]interface{}{
			"automation_id": params.Definition.ID,
			"execution_id":  params.Execution.ID,
			"step_order":    params.Step.Order,
			"step_type":     params.Step.Type,
			"attempt":       attempt + 1,
			"error":         err.Error(),
		}).Warn("Action step attempt failed")
	}

	return nil, fmt.Errorf("step failed after %d attempts: %w", d.maxRetries+1, lastErr)
}

// parseStepConfig decodes a step's loosely-typed config map into a typed
// config struct
func parseStepConfig(config map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// SendMessageStepConfig configures a send_message step
type SendMessageStepConfig struct {
	TemplateID string                 `json:"template_id,omitempty"`
	Subject    string                 `json:"subject,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
}

// Validate validates the send_message step config
func (c *SendMessageStepConfig) Validate() error {
	if c.TemplateID == "" && c.Body == "" {
		return fmt.Errorf("either template_id or body is required")
	}
	return nil
}

// SendMessageHandler executes send_message steps through the messaging
// capability, rendering subject and body variables with Liquid
type SendMessageHandler struct {
	sender domain.MessageSender
}

// NewSendMessageHandler creates a new send_message handler
func NewSendMessageHandler(sender domain.MessageSender) *SendMessageHandler {
	return &SendMessageHandler{sender: sender}
}

// ActionType returns the action type this handler executes
func (h *SendMessageHandler) ActionType() domain.ActionType {
	return domain.ActionTypeSendMessage
}

// Execute sends one message to the execution's recipient
func (h *SendMessageHandler) Execute(ctx context.Context, params StepParams) (*StepOutput, error) {
	var config SendMessageStepConfig
	if err := parseStepConfig(params.Step.Config, &config); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid send_message config: %w", err))
	}
	if err := config.Validate(); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid send_message config: %w", err))
	}

	data := buildTemplateData(params.Profile, params.Definition)
	for k, v := range config.Variables {
		data[k] = v
	}

	subject, err := render.Template(config.Subject, data)
	if err != nil {
		return nil, steperr.Permanent(fmt.Errorf("failed to render subject: %w", err))
	}
	body, err := render.Template(config.Body, data)
	if err != nil {
		return nil, steperr.Permanent(fmt.Errorf("failed to render body: %w", err))
	}

	message := domain.OutboundMessage{
		To:         params.Execution.RecipientEmail,
		Subject:    subject,
		TemplateID: config.TemplateID,
		Body:       body,
		Variables:  data,
	}
	if err := message.Validate(); err != nil {
		return nil, steperr.Permanent(err)
	}

	if err := h.sender.Send(ctx, message); err != nil {
		return nil, err
	}
	return &StepOutput{}, nil
}

// buildTemplateData assembles the variable document for message rendering
func buildTemplateData(profile *domain.RecipientProfile, def *domain.AutomationDefinition) map[string]interface{} {
	data := make(map[string]interface{})

	if profile != nil {
		data["email"] = profile.Email
		data["recipient_id"] = profile.ID

		if len(profile.Attributes) > 0 {
			var attrs map[string]interface{}
			if err := json.Unmarshal(profile.Attributes, &attrs); err == nil {
				for k, v := range attrs {
					data[k] = v
				}
			}
		}
	}

	if def != nil {
		data["automation_id"] = def.ID
		data["automation_name"] = def.Name
	}

	return data
}

// UpdateRecipientStepConfig configures an update_recipient step
type UpdateRecipientStepConfig struct {
	Fields map[string]interface{} `json:"fields"`
}

// UpdateRecipientHandler executes update_recipient steps against the donor
// record capability. Setting a field twice has the same effect as once.
type UpdateRecipientHandler struct {
	directory domain.RecipientDirectory
}

// NewUpdateRecipientHandler creates a new update_recipient handler
func NewUpdateRecipientHandler(directory domain.RecipientDirectory) *UpdateRecipientHandler {
	return &UpdateRecipientHandler{directory: directory}
}

// ActionType returns the action type this handler executes
func (h *UpdateRecipientHandler) ActionType() domain.ActionType {
	return domain.ActionTypeUpdateRecipient
}

// Execute updates the recipient's record fields
func (h *UpdateRecipientHandler) Execute(ctx context.Context, params StepParams) (*StepOutput, error) {
	var config UpdateRecipientStepConfig
	if err := parseStepConfig(params.Step.Config, &config); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid update_recipient config: %w", err))
	}
	if len(config.Fields) == 0 {
		return nil, steperr.Permanent(fmt.Errorf("update_recipient requires at least one field"))
	}

	if err := h.directory.UpdateFields(ctx, params.Execution.RecipientID, config.Fields); err != nil {
		return nil, err
	}
	return &StepOutput{}, nil
}

// AddTagStepConfig configures an add_tag step
type AddTagStepConfig struct {
	Tag string `json:"tag"`
}

// AddTagHandler executes add_tag steps against the donor record capability
type AddTagHandler struct {
	directory domain.RecipientDirectory
}

// NewAddTagHandler creates a new add_tag handler
func NewAddTagHandler(directory domain.RecipientDirectory) *AddTagHandler {
	return &AddTagHandler{directory: directory}
}

// ActionType returns the action type this handler executes
func (h *AddTagHandler) ActionType() domain.ActionType {
	return domain.ActionTypeAddTag
}

// Execute tags the recipient's record
func (h *AddTagHandler) Execute(ctx context.Context, params StepParams) (*StepOutput, error) {
	var config AddTagStepConfig
	if err := parseStepConfig(params.Step.Config, &config); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid add_tag config: %w", err))
	}
	if config.Tag == "" {
		return nil, steperr.Permanent(fmt.Errorf("add_tag requires a tag"))
	}

	if err := h.directory.AddTag(ctx, params.Execution.RecipientID, config.Tag); err != nil {
		return nil, err
	}
	return &StepOutput{}, nil
}

// EmitNotificationStepConfig configures an emit_notification step
type EmitNotificationStepConfig struct {
	Topic   string                 `json:"topic"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// EmitNotificationHandler executes emit_notification steps through the
// notification capability
type EmitNotificationHandler struct {
	notifier domain.Notifier
}

// NewEmitNotificationHandler creates a new emit_notification handler
func NewEmitNotificationHandler(notifier domain.Notifier) *EmitNotificationHandler {
	return &EmitNotificationHandler{notifier: notifier}
}

// ActionType returns the action type this handler executes
func (h *EmitNotificationHandler) ActionType() domain.ActionType {
	return domain.ActionTypeEmitNotification
}

// Execute emits one notification enriched with execution context
func (h *EmitNotificationHandler) Execute(ctx context.Context, params StepParams) (*StepOutput, error) {
	var config EmitNotificationStepConfig
	if err := parseStepConfig(params.Step.Config, &config); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid emit_notification config: %w", err))
	}
	if config.Topic == "" {
		return nil, steperr.Permanent(fmt.Errorf("emit_notification requires a topic"))
	}

	payload := make(map[string]interface{}, len(config.Payload)+4)
	for k, v := range config.Payload {
		payload[k] = v
	}
	payload["automation_id"] = params.Definition.ID
	payload["automation_name"] = params.Definition.Name
	payload["execution_id"] = params.Execution.ID
	payload["recipient_id"] = params.Execution.RecipientID

	notification := domain.Notification{
		Topic:   config.Topic,
		Payload: payload,
	}
	if err := h.notifier.Notify(ctx, notification); err != nil {
		return nil, err
	}
	return &StepOutput{}, nil
}

// WaitStepConfig configures a wait step
type WaitStepConfig struct {
	Duration int    `json:"duration"`
	Unit     string `json:"unit"` // "minutes", "hours", "days"
}

// Validate validates the wait step config
func (c *WaitStepConfig) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	switch c.Unit {
	case "minutes", "hours", "days":
		return nil
	default:
		return fmt.Errorf("invalid unit: %s (must be minutes, hours, or days)", c.Unit)
	}
}

// ToDuration converts the config to a time.Duration
func (c *WaitStepConfig) ToDuration() time.Duration {
	switch c.Unit {
	case "minutes":
		return time.Duration(c.Duration) * time.Minute
	case "hours":
		return time.Duration(c.Duration) * time.Hour
	case "days":
		return time.Duration(c.Duration) * 24 * time.Hour
	}
	return 0
}

// WaitHandler executes wait steps. A wait imposes an additional delay
// within an already-admitted execution; the runner re-schedules the
// remainder of the sequence rather than blocking a worker.
type WaitHandler struct{}

// NewWaitHandler creates a new wait handler
func NewWaitHandler() *WaitHandler {
	return &WaitHandler{}
}

// ActionType returns the action type this handler executes
func (h *WaitHandler) ActionType() domain.ActionType {
	return domain.ActionTypeWait
}

// Execute computes when the remainder of the sequence should resume
func (h *WaitHandler) Execute(ctx context.Context, params StepParams) (*StepOutput, error) {
	var config WaitStepConfig
	if err := parseStepConfig(params.Step.Config, &config); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid wait config: %w", err))
	}
	if err := config.Validate(); err != nil {
		return nil, steperr.Permanent(fmt.Errorf("invalid wait config: %w", err))
	}

	resumeAt := time.Now().UTC().Add(config.ToDuration())
	return &StepOutput{ResumeAt: &resumeAt}, nil
}

// entityDocument merges the execution's trigger snapshot with the current
// recipient attributes so conditions can reference both donation and donor
// fields. Current recipient state wins on key collisions.
func entityDocument(eventPayload json.RawMessage, profile *domain.RecipientProfile) json.RawMessage {
	if profile == nil || len(profile.Attributes) == 0 {
		return eventPayload
	}
	if len(eventPayload) == 0 {
		return profile.Attributes
	}

	merged := make(map[string]interface{})
	if err := json.Unmarshal(eventPayload, &merged); err != nil {
		return profile.Attributes
	}
	current := gjson.ParseBytes(profile.Attributes)
	if current.IsObject() {
		current.ForEach(func(key, value gjson.Result) bool {
			merged[key.String()] = value.Value()
			return true
		})
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return eventPayload
	}
	return out
}
