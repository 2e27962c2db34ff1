package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/metrics"
	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
)

// ValidateWebhookSignature authenticates webhook deliveries against the
// tenant's signing secret. The signature covers the raw request body exactly
// as received; any verification failure rejects the request before the body
// is ever parsed.
func ValidateWebhookSignature(processor *services.WebhookProcessor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := c.Params("tenantID")
		if tenantID == "" {
			metrics.WebhookRejectedTotal.WithLabelValues("missing_tenant").Inc()
			return c.Status(401).JSON(fiber.Map{
				"error": "Missing tenant",
			})
		}

		signature := c.Get("X-Webhook-Signature")
		if signature == "" {
			metrics.WebhookRejectedTotal.WithLabelValues("missing_signature").Inc()
			return c.Status(401).JSON(fiber.Map{
				"error": "Missing signature",
			})
		}

		err := processor.VerifySignature(tenantID, c.Body(), signature)
		if err == nil {
			return c.Next()
		}

		reason := "invalid_signature"
		switch {
		case errors.Is(err, services.ErrUnknownTenant):
			reason = "unknown_tenant"
		case errors.Is(err, services.ErrNoWebhookSecret):
			reason = "no_secret"
		case errors.Is(err, services.ErrMalformedSignature):
			reason = "malformed_signature"
		}

		metrics.WebhookRejectedTotal.WithLabelValues(reason).Inc()
		log.WithFields(log.Fields{
			"tenant_id": tenantID,
			"reason":    reason,
		}).Warn("webhook signature rejected")

		return c.Status(401).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}
}
