package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Channel constants
const (
	ChannelWhatsApp = "WHATSAPP"
	ChannelSMS      = "SMS"
	ChannelEmail    = "EMAIL"
)

// MessageStatus constants - transitions only move forward
const (
	MessageStatusQueued    = "QUEUED"
	MessageStatusSending   = "SENDING"
	MessageStatusThrottled = "THROTTLED"
	MessageStatusSent      = "SENT"
	MessageStatusFailed    = "FAILED"
)

// OutboundMessage represents one attempt-tracked unit of outbound communication
type OutboundMessage struct {
	gorm.Model

	MessageID string `json:"message_id" gorm:"uniqueIndex"`
	TenantID  string `json:"tenant_id" gorm:"index;uniqueIndex:idx_tenant_idem_key"`
	LeadID    string `json:"lead_id" gorm:"index"`

	Channel      string `json:"channel"`   // WHATSAPP, SMS, EMAIL
	Recipient    string `json:"recipient"` // phone number or email address
	TemplateCode string `json:"template_code"`
	Subject      string `json:"subject"` // email only
	ConsentType  string `json:"consent_type"`

	Payload map[string]string `json:"payload" gorm:"serializer:json"`

	Status       string `json:"status" gorm:"index;default:QUEUED"`
	AttemptCount int    `json:"attempt_count" gorm:"default:0"`
	MaxAttempts  int    `json:"max_attempts" gorm:"default:3"`

	LastErrorCode    string `json:"last_error_code"`
	LastErrorMessage string `json:"last_error_message"`

	ProviderMessageID string `json:"provider_message_id" gorm:"index"`
	IdempotencyKey    string `json:"idempotency_key" gorm:"uniqueIndex:idx_tenant_idem_key"`

	// NextAttemptAt gates retry dispatch; RequeueAt is set when throttled and
	// points at the tenant's quota window reset.
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	RequeueAt     *time.Time `json:"requeue_at"`
}

// BeforeCreate hook to auto-generate the message ID
func (m *OutboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.MessageID == "" {
		m.MessageID = "MSG-" + uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MessageStatusQueued
	}
	if m.MaxAttempts == 0 {
		m.MaxAttempts = 3
	}
	return nil
}

// IsTerminal reports whether the message will receive no further automatic attempts
func (m *OutboundMessage) IsTerminal() bool {
	return m.Status == MessageStatusSent || m.Status == MessageStatusFailed
}

// CanRetry reports whether another delivery attempt is allowed
func (m *OutboundMessage) CanRetry() bool {
	return !m.IsTerminal() && m.AttemptCount < m.MaxAttempts
}

// InboundMessage is a customer-initiated message received via provider webhook.
// ProviderMessageID is unique so duplicate webhook callbacks never double-insert.
type InboundMessage struct {
	gorm.Model

	TenantID          string    `json:"tenant_id" gorm:"index;uniqueIndex:idx_tenant_provider_msg"`
	LeadID            string    `json:"lead_id" gorm:"index"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"uniqueIndex:idx_tenant_provider_msg"`
	FromPhone         string    `json:"from_phone" gorm:"index"`
	Body              string    `json:"body"`
	ContactName       string    `json:"contact_name"`
	ReceivedAt        time.Time `json:"received_at"`
}
