package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// MessageHandler exposes the outbound messaging API
type MessageHandler struct {
	orchestrator *services.Orchestrator
	store        storage.Store
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(orchestrator *services.Orchestrator, store storage.Store) *MessageHandler {
	return &MessageHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

// Enqueue accepts a message into the outbound queue. A repeated request with
// the same idempotency key returns the already-queued message with 200
// instead of creating a duplicate.
func (h *MessageHandler) Enqueue(c *fiber.Ctx) error {
	tenantID := c.Get("X-Tenant-ID")
	if tenantID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing X-Tenant-ID header",
		})
	}

	var req services.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.TenantID = tenantID

	msg, created, err := h.orchestrator.Enqueue(req)
	if err != nil {
		return c.Status(422).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	status := 200
	if created {
		status = 201
	}
	return c.Status(status).JSON(msg)
}

// Get returns one outbound message by its message id, scoped to the caller's
// tenant.
func (h *MessageHandler) Get(c *fiber.Ctx) error {
	tenantID := c.Get("X-Tenant-ID")
	if tenantID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing X-Tenant-ID header",
		})
	}

	msg, err := h.store.GetOutboundMessage(c.Params("messageID"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Message not found",
		})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load message",
		})
	}
	if msg.TenantID != tenantID {
		return c.Status(404).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	return c.JSON(msg)
}
