package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
)

// WebhookHandler receives inbound message callbacks from the provider
type WebhookHandler struct {
	processor *services.WebhookProcessor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor *services.WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// HandleInbound ingests a webhook delivery. Signature verification has
// already happened in middleware; this handler only parses and processes.
// The response is always 200 once the payload parses, so the provider does
// not redeliver a batch because one message in it failed.
func (h *WebhookHandler) HandleInbound(c *fiber.Ctx) error {
	tenantID := c.Params("tenantID")

	var payload services.InboundWebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	result := h.processor.ProcessInbound(tenantID, payload)
	log.WithFields(log.Fields{
		"tenant_id":  tenantID,
		"processed":  result.Processed,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}).Info("webhook delivery handled")

	return c.JSON(result)
}
