package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/metrics"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// Signature verification failures. All of them reject the request; the split
// exists for logging and metrics.
var (
	ErrUnknownTenant      = errors.New("unknown tenant")
	ErrNoWebhookSecret    = errors.New("tenant has no webhook secret configured")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// InboundWebhookMessage is one customer message inside a webhook delivery.
type InboundWebhookMessage struct {
	ID          string `json:"id"` // provider message id
	From        string `json:"from"`
	Body        string `json:"body"`
	Timestamp   string `json:"timestamp"` // RFC3339; receipt time when absent or unparseable
	ContactName string `json:"contact_name"`
}

// InboundWebhookPayload is the body of a provider webhook delivery.
type InboundWebhookPayload struct {
	Messages []InboundWebhookMessage `json:"messages"`
}

// ProcessResult summarizes one webhook delivery.
type ProcessResult struct {
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// WebhookProcessor authenticates and ingests inbound message webhooks.
// Ingestion is idempotent per provider message id, so provider redeliveries
// are harmless.
type WebhookProcessor struct {
	store    storage.Store
	sessions *SessionWindowService
}

// NewWebhookProcessor creates a webhook processor
func NewWebhookProcessor(store storage.Store, sessions *SessionWindowService) *WebhookProcessor {
	return &WebhookProcessor{
		store:    store,
		sessions: sessions,
	}
}

// VerifySignature checks the HMAC-SHA256 signature over the raw request body
// against the tenant's webhook secret. The header carries the hex digest with
// a "sha256=" prefix. Any missing piece of configuration is a hard reject,
// never a bypass.
func (w *WebhookProcessor) VerifySignature(tenantID string, body []byte, signatureHeader string) error {
	settings, err := w.store.GetTenantSettings(tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownTenant
	}
	if err != nil {
		return fmt.Errorf("tenant lookup failed: %w", err)
	}
	if settings.WebhookSecret == "" {
		return ErrNoWebhookSecret
	}

	provided, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok || provided == "" {
		return ErrMalformedSignature
	}
	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(settings.WebhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, providedBytes) {
		return ErrSignatureMismatch
	}
	return nil
}

// ProcessInbound ingests every message in a webhook delivery. Each message is
// handled independently: a duplicate or a bad record never blocks the rest of
// the batch.
func (w *WebhookProcessor) ProcessInbound(tenantID string, payload InboundWebhookPayload) ProcessResult {
	result := ProcessResult{}

	for _, incoming := range payload.Messages {
		switch err := w.processOne(tenantID, incoming); {
		case err == nil:
			result.Processed++
		case errors.Is(err, errDuplicateInbound):
			result.Duplicates++
			metrics.WebhookDuplicateTotal.Inc()
		default:
			result.Failed++
			log.WithError(err).WithFields(log.Fields{
				"tenant_id":           tenantID,
				"provider_message_id": incoming.ID,
			}).Error("failed to process inbound message")
		}
	}

	return result
}

var errDuplicateInbound = errors.New("inbound message already processed")

func (w *WebhookProcessor) processOne(tenantID string, incoming InboundWebhookMessage) error {
	if incoming.ID == "" {
		return fmt.Errorf("inbound message has no provider message id")
	}
	if incoming.From == "" {
		return fmt.Errorf("inbound message has no sender")
	}

	if _, err := w.store.GetInboundMessageByProviderID(tenantID, incoming.ID); err == nil {
		return errDuplicateInbound
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("dedup lookup failed: %w", err)
	}

	receivedAt := time.Now().UTC()
	if incoming.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, incoming.Timestamp); err == nil {
			receivedAt = parsed.UTC()
		} else {
			log.WithFields(log.Fields{
				"provider_message_id": incoming.ID,
				"timestamp":           incoming.Timestamp,
			}).Warn("unparseable webhook timestamp, using receipt time")
		}
	}

	phone := NormalizePhone(incoming.From)
	lead, err := w.findOrCreateLead(tenantID, phone, incoming.ContactName)
	if err != nil {
		return fmt.Errorf("lead resolution failed: %w", err)
	}

	inbound := &models.InboundMessage{
		TenantID:          tenantID,
		LeadID:            lead.LeadID,
		ProviderMessageID: incoming.ID,
		FromPhone:         phone,
		Body:              incoming.Body,
		ContactName:       incoming.ContactName,
		ReceivedAt:        receivedAt,
	}
	if _, err := w.store.CreateInboundMessage(inbound); err != nil {
		// A concurrent delivery of the same webhook may have inserted first.
		if _, lookupErr := w.store.GetInboundMessageByProviderID(tenantID, incoming.ID); lookupErr == nil {
			return errDuplicateInbound
		}
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}

	if err := w.sessions.RecordInbound(tenantID, phone, receivedAt); err != nil {
		log.WithError(err).WithField("provider_message_id", incoming.ID).Error("failed to extend session window")
	}

	metrics.InboundProcessedTotal.Inc()
	log.WithFields(log.Fields{
		"tenant_id":           tenantID,
		"lead_id":             lead.LeadID,
		"provider_message_id": incoming.ID,
	}).Info("inbound message processed")

	return nil
}

// findOrCreateLead attaches the message to the sender's active lead, creating
// a fresh one when the sender is new or their previous lead is closed.
func (w *WebhookProcessor) findOrCreateLead(tenantID, phone, name string) (*models.Lead, error) {
	lead, err := w.store.GetActiveLeadByPhone(tenantID, phone)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	created, err := w.store.CreateLead(&models.Lead{
		TenantID: tenantID,
		Phone:    phone,
		Name:     name,
		Status:   models.LeadStatusNew,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id": tenantID,
		"lead_id":   created.LeadID,
	}).Info("new lead created from inbound message")

	return created, nil
}
