package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asaskevich/govalidator"
)

//go:generate mockgen -destination mocks/mock_recipient_directory.go -package mocks github.com/donorflow/donorflow/internal/domain RecipientDirectory
//go:generate mockgen -destination mocks/mock_message_sender.go -package mocks github.com/donorflow/donorflow/internal/domain MessageSender
//go:generate mockgen -destination mocks/mock_notifier.go -package mocks github.com/donorflow/donorflow/internal/domain Notifier
//go:generate mockgen -destination mocks/mock_audience_source.go -package mocks github.com/donorflow/donorflow/internal/domain AudienceSource

// RecipientProfile is the engine's view of a donor record: the stable
// identifier, the delivery address, and the attribute document condition
// expressions evaluate against. The donor record itself is owned by an
// external collaborator.
type RecipientProfile struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Validate validates the recipient profile
func (p *RecipientProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Email != "" && !govalidator.IsEmail(p.Email) {
		return fmt.Errorf("invalid email format: %s", p.Email)
	}
	return nil
}

// RecipientDirectory is the donor-record capability. GetProfile returns the
// current state of the recipient, which the runner uses to re-evaluate
// conditions at fire time. UpdateFields and AddTag are idempotent by
// construction.
type RecipientDirectory interface {
	GetProfile(ctx context.Context, recipientID string) (*RecipientProfile, error)
	UpdateFields(ctx context.Context, recipientID string, fields map[string]interface{}) error
	AddTag(ctx context.Context, recipientID, tag string) error
}

// OutboundMessage is one message handed to the messaging capability
type OutboundMessage struct {
	To         string
	Subject    string
	TemplateID string
	Body       string
	Variables  map[string]interface{}
}

// Validate validates the outbound message
func (m *OutboundMessage) Validate() error {
	if m.To == "" {
		return fmt.Errorf("recipient address is required")
	}
	if !govalidator.IsEmail(m.To) {
		return fmt.Errorf("invalid recipient address: %s", m.To)
	}
	if m.TemplateID == "" && m.Body == "" {
		return fmt.Errorf("either template_id or body is required")
	}
	return nil
}

// MessageSender is the transactional-messaging capability consumed by
// send_message steps
type MessageSender interface {
	Send(ctx context.Context, message OutboundMessage) error
}

// Notification is one out-of-band signal emitted by emit_notification steps
type Notification struct {
	Topic   string                 `json:"topic"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Notifier delivers notifications to the external notification channel
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// AudienceSource resolves the recipient set for a schedule-typed trigger,
// e.g. "all donors with an upcoming renewal date". The engine consumes the
// set; computing it belongs to the donor platform.
type AudienceSource interface {
	ListAudience(ctx context.Context, audienceKey string) ([]*RecipientProfile, error)
}
