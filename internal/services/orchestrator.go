package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/metrics"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/providers"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// Error codes the orchestrator assigns itself, distinct from provider codes.
const (
	ErrCodeWindowClosed  = "WINDOW_CLOSED"
	ErrCodeNoAdapter     = "NO_ADAPTER"
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
)

// EnqueueRequest describes one outbound message to accept into the queue.
type EnqueueRequest struct {
	TenantID       string            `json:"tenant_id"`
	LeadID         string            `json:"lead_id"`
	Channel        string            `json:"channel"`
	Recipient      string            `json:"recipient"`
	TemplateCode   string            `json:"template_code"`
	Payload        map[string]string `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key"`
	ConsentType    string            `json:"consent_type"`
}

// Orchestrator owns the outbound message lifecycle: accepting messages into
// the queue and driving each dispatch through quota, policy, provider send
// and the retry state machine.
type Orchestrator struct {
	store     storage.Store
	cfg       *config.Config
	quota     *QuotaTracker
	sessions  *SessionWindowService
	templates *TemplateService
	adapters  []providers.Adapter
}

// NewOrchestrator creates a message orchestrator
func NewOrchestrator(store storage.Store, cfg *config.Config, quota *QuotaTracker, sessions *SessionWindowService, templates *TemplateService, adapters []providers.Adapter) *Orchestrator {
	return &Orchestrator{
		store:     store,
		cfg:       cfg,
		quota:     quota,
		sessions:  sessions,
		templates: templates,
		adapters:  adapters,
	}
}

// Enqueue validates and persists a new outbound message in QUEUED state.
// When the tenant has already enqueued a message under the same idempotency
// key the existing message is returned and created is false.
func (o *Orchestrator) Enqueue(req EnqueueRequest) (*models.OutboundMessage, bool, error) {
	if req.TenantID == "" {
		return nil, false, fmt.Errorf("tenant_id is required")
	}
	if req.Recipient == "" {
		return nil, false, fmt.Errorf("recipient is required")
	}

	switch req.Channel {
	case models.ChannelWhatsApp, models.ChannelSMS, models.ChannelEmail:
	default:
		return nil, false, fmt.Errorf("unknown channel '%s'", req.Channel)
	}

	// Template code is optional: a message without one is a freeform send and
	// must carry its body in the payload.
	var template *TemplateConfig
	if req.TemplateCode != "" {
		var err error
		template, err = o.templates.GetTemplate(req.TemplateCode)
		if err != nil {
			return nil, false, err
		}
		missing, err := o.templates.MissingRequiredVariables(req.TemplateCode, req.Payload)
		if err != nil {
			return nil, false, err
		}
		if len(missing) > 0 {
			return nil, false, fmt.Errorf("template '%s' missing required variables: %s", req.TemplateCode, strings.Join(missing, ", "))
		}
	} else if strings.TrimSpace(req.Payload["body"]) == "" {
		return nil, false, fmt.Errorf("freeform message requires a body")
	}

	// Callers that skip the idempotency key get a random one, so the unique
	// index never collides on empty strings.
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "auto-" + uuid.NewString()
	} else {
		existing, err := o.store.GetOutboundMessageByIdempotencyKey(req.TenantID, req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	recipient := req.Recipient
	if req.Channel != models.ChannelEmail {
		recipient = NormalizePhone(recipient)
		if recipient == "" {
			return nil, false, fmt.Errorf("invalid recipient phone number")
		}
	}

	subject := ""
	if req.Channel == models.ChannelEmail {
		if template != nil {
			subject = o.templates.Interpolate(template.Subject, req.Payload)
		} else {
			subject = req.Payload["subject"]
		}
	}

	msg := &models.OutboundMessage{
		TenantID:       req.TenantID,
		LeadID:         req.LeadID,
		Channel:        req.Channel,
		Recipient:      recipient,
		TemplateCode:   req.TemplateCode,
		Subject:        subject,
		ConsentType:    req.ConsentType,
		Payload:        req.Payload,
		Status:         models.MessageStatusQueued,
		MaxAttempts:    o.cfg.MaxDeliveryAttempts,
		IdempotencyKey: req.IdempotencyKey,
	}

	created, err := o.store.CreateOutboundMessage(msg)
	if err != nil {
		// A concurrent enqueue with the same key may have won the insert race.
		if req.IdempotencyKey != "" {
			if existing, lookupErr := o.store.GetOutboundMessageByIdempotencyKey(req.TenantID, req.IdempotencyKey); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to enqueue message: %w", err)
	}

	metrics.OutboundEnqueuedTotal.WithLabelValues(req.Channel).Inc()
	log.WithFields(log.Fields{
		"message_id": created.MessageID,
		"tenant_id":  created.TenantID,
		"channel":    created.Channel,
		"template":   created.TemplateCode,
	}).Info("message enqueued")

	return created, true, nil
}

// Dispatch drives one delivery attempt for a queued message. Every exit path
// persists a definitive status; a message is never left in SENDING except
// across the provider call itself.
func (o *Orchestrator) Dispatch(ctx context.Context, msg *models.OutboundMessage) error {
	if msg.Status != models.MessageStatusQueued {
		return fmt.Errorf("message %s is %s, not dispatchable", msg.MessageID, msg.Status)
	}

	now := time.Now().UTC()

	// Quota gate. A denial is not a delivery attempt.
	decision, err := o.quota.TryConsume(msg.TenantID, msg.Channel)
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if !decision.Allowed {
		metrics.QuotaDeniedTotal.WithLabelValues(msg.Channel).Inc()
		return o.throttle(msg, decision.ResetAt, ErrCodeQuotaExceeded, "tenant quota exhausted for channel")
	}

	var template *TemplateConfig
	if msg.TemplateCode != "" {
		var tplErr error
		template, tplErr = o.templates.GetTemplate(msg.TemplateCode)
		if tplErr != nil {
			return o.fail(msg, "TEMPLATE_MISSING", tplErr.Error())
		}
	}

	// WhatsApp policy gate: freeform content is only deliverable inside the
	// customer-service window. Template sends pass through; the provider
	// enforces its own rules on templates it has not approved.
	if msg.Channel == models.ChannelWhatsApp && msg.TemplateCode == "" {
		open, err := o.sessions.IsWithinWindow(msg.TenantID, msg.Recipient, now)
		if err != nil {
			return fmt.Errorf("session window check failed: %w", err)
		}
		if !open {
			metrics.PolicyBlockedTotal.WithLabelValues(msg.Channel, "window_closed").Inc()
			return o.fail(msg, ErrCodeWindowClosed, "freeform send outside the 24h service window")
		}
	}

	adapter := o.adapterFor(msg.Channel)
	if adapter == nil {
		return o.fail(msg, ErrCodeNoAdapter, "no provider adapter configured for channel "+msg.Channel)
	}

	msg.Status = models.MessageStatusSending
	if err := o.store.UpdateOutboundMessage(msg); err != nil {
		return fmt.Errorf("failed to mark message sending: %w", err)
	}

	content := o.resolveContent(msg, template)

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderSendTimeout)
	defer cancel()
	result := adapter.Send(sendCtx, msg.Recipient, content)

	if result.Success {
		return o.succeed(msg, result)
	}
	return o.handleFailure(msg, result)
}

// resolveContent renders the provider-facing payload. Freeform messages ship
// the body straight from the payload; WhatsApp templated sends carry the
// Content SID plus positional variables; everything else gets a locally
// interpolated body.
func (o *Orchestrator) resolveContent(msg *models.OutboundMessage, template *TemplateConfig) providers.Content {
	if template == nil {
		return providers.Content{
			Body:    msg.Payload["body"],
			Subject: msg.Subject,
		}
	}

	if msg.Channel == models.ChannelWhatsApp && template.ContentSID != "" {
		return providers.Content{
			ContentSID: template.ContentSID,
			Variables:  o.templates.ContentVariables(template, msg.Payload),
		}
	}

	return providers.Content{
		Body:    o.templates.Interpolate(template.Body, msg.Payload),
		Subject: msg.Subject,
	}
}

func (o *Orchestrator) succeed(msg *models.OutboundMessage, result providers.SendResult) error {
	msg.AttemptCount++
	msg.Status = models.MessageStatusSent
	msg.ProviderMessageID = result.ProviderMessageID
	msg.LastErrorCode = ""
	msg.LastErrorMessage = ""
	msg.NextAttemptAt = nil
	msg.RequeueAt = nil

	if err := o.store.UpdateOutboundMessage(msg); err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	if msg.Channel == models.ChannelWhatsApp {
		if err := o.sessions.RecordOutbound(msg.TenantID, msg.Recipient, time.Now().UTC()); err != nil {
			log.WithError(err).WithField("message_id", msg.MessageID).Warn("failed to record outbound on session window")
		}
	}

	metrics.OutboundSendTotal.WithLabelValues(msg.Channel, models.MessageStatusSent).Inc()
	log.WithFields(log.Fields{
		"message_id":          msg.MessageID,
		"tenant_id":           msg.TenantID,
		"channel":             msg.Channel,
		"provider_message_id": msg.ProviderMessageID,
		"attempt":             msg.AttemptCount,
	}).Info("message sent")

	return nil
}

// handleFailure applies the retry state machine to a failed provider call.
// A rate-limit classification throttles the message without consuming an
// attempt; every other failure burns one.
func (o *Orchestrator) handleFailure(msg *models.OutboundMessage, result providers.SendResult) error {
	if result.RateLimited {
		until, err := o.quota.HandleProviderThrottleSignal(msg.TenantID, msg.Channel, result.RetryAfterSeconds)
		if err != nil {
			log.WithError(err).WithField("message_id", msg.MessageID).Error("failed to record provider throttle")
			until = time.Now().UTC().Add(o.cfg.ThrottleFallback)
		}
		return o.throttle(msg, until, result.ErrorCode, result.ErrorMessage)
	}

	msg.AttemptCount++
	msg.LastErrorCode = result.ErrorCode
	msg.LastErrorMessage = result.ErrorMessage

	if result.Retryable && msg.AttemptCount < msg.MaxAttempts {
		next := time.Now().UTC().Add(o.retryDelay(msg.AttemptCount))
		msg.Status = models.MessageStatusQueued
		msg.NextAttemptAt = &next

		if err := o.store.UpdateOutboundMessage(msg); err != nil {
			return fmt.Errorf("failed to requeue message for retry: %w", err)
		}

		metrics.OutboundSendTotal.WithLabelValues(msg.Channel, models.MessageStatusQueued).Inc()
		log.WithFields(log.Fields{
			"message_id":   msg.MessageID,
			"error_code":   result.ErrorCode,
			"attempt":      msg.AttemptCount,
			"max_attempts": msg.MaxAttempts,
			"next_attempt": next,
		}).Warn("delivery attempt failed, retry scheduled")
		return nil
	}

	msg.Status = models.MessageStatusFailed
	msg.NextAttemptAt = nil
	if err := o.store.UpdateOutboundMessage(msg); err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}

	metrics.OutboundSendTotal.WithLabelValues(msg.Channel, models.MessageStatusFailed).Inc()
	log.WithFields(log.Fields{
		"message_id": msg.MessageID,
		"error_code": result.ErrorCode,
		"attempts":   msg.AttemptCount,
		"retryable":  result.Retryable,
	}).Error("message failed permanently")
	return nil
}

// throttle parks a message until the quota window reopens. Attempt count is
// untouched: being throttled is a scheduling outcome, not a delivery failure.
func (o *Orchestrator) throttle(msg *models.OutboundMessage, requeueAt time.Time, code, message string) error {
	msg.Status = models.MessageStatusThrottled
	msg.LastErrorCode = code
	msg.LastErrorMessage = message
	msg.RequeueAt = &requeueAt
	msg.NextAttemptAt = nil

	if err := o.store.UpdateOutboundMessage(msg); err != nil {
		return fmt.Errorf("failed to throttle message: %w", err)
	}

	metrics.OutboundSendTotal.WithLabelValues(msg.Channel, models.MessageStatusThrottled).Inc()
	log.WithFields(log.Fields{
		"message_id": msg.MessageID,
		"tenant_id":  msg.TenantID,
		"channel":    msg.Channel,
		"requeue_at": requeueAt,
	}).Info("message throttled")
	return nil
}

// fail marks a message terminally failed without a provider attempt.
func (o *Orchestrator) fail(msg *models.OutboundMessage, code, message string) error {
	msg.Status = models.MessageStatusFailed
	msg.LastErrorCode = code
	msg.LastErrorMessage = message
	msg.NextAttemptAt = nil
	msg.RequeueAt = nil

	if err := o.store.UpdateOutboundMessage(msg); err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}

	metrics.OutboundSendTotal.WithLabelValues(msg.Channel, models.MessageStatusFailed).Inc()
	log.WithFields(log.Fields{
		"message_id": msg.MessageID,
		"error_code": code,
	}).Warn("message rejected before provider send")
	return nil
}

func (o *Orchestrator) adapterFor(channel string) providers.Adapter {
	for _, a := range o.adapters {
		if a.Supports(channel) {
			return a
		}
	}
	return nil
}

// retryDelay computes the exponential backoff delay for the given attempt
// number (1-based). Jitter spreads retries so a burst of failures does not
// come back as a burst of retries.
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryBaseDelay
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxInterval = 1 * time.Hour
	b.MaxElapsedTime = 0
	// The constructor seeds currentInterval from the default InitialInterval;
	// Reset re-seeds it from ours.
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
