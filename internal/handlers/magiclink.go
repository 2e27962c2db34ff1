package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
)

// MagicLinkHandler exposes magic link issuance and validation
type MagicLinkHandler struct {
	magicLinks *services.MagicLinkService
}

// NewMagicLinkHandler creates a new magic link handler
func NewMagicLinkHandler(magicLinks *services.MagicLinkService) *MagicLinkHandler {
	return &MagicLinkHandler{magicLinks: magicLinks}
}

// Send queues a sign-in link for a lead. The Idempotency-Key header keeps
// button-mashing from queueing the same link repeatedly.
func (h *MagicLinkHandler) Send(c *fiber.Ctx) error {
	tenantID := c.Get("X-Tenant-ID")
	if tenantID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing X-Tenant-ID header",
		})
	}

	idempotencyKey := c.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing Idempotency-Key header",
		})
	}

	msg, err := h.magicLinks.SendLink(tenantID, c.Params("leadID"), idempotencyKey)
	if err != nil {
		return c.Status(422).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message_id": msg.MessageID,
		"status":     msg.Status,
	})
}

// Validate resolves a magic link token to its lead id.
func (h *MagicLinkHandler) Validate(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing token",
		})
	}

	leadID, err := h.magicLinks.ValidateToken(token)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	return c.JSON(fiber.Map{
		"lead_id": leadID,
	})
}
