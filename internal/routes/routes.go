package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadpilot-hq/leadpilot-backend/internal/handlers"
	"github.com/leadpilot-hq/leadpilot-backend/internal/middleware"
	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, store storage.Store, orchestrator *services.Orchestrator, webhookProcessor *services.WebhookProcessor, magicLinks *services.MagicLinkService) {

	messageHandler := handlers.NewMessageHandler(orchestrator, store)
	webhookHandler := handlers.NewWebhookHandler(webhookProcessor)
	healthHandler := handlers.NewHealthHandler("1.0.0")

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "LeadPilot Messaging API",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":  "/health",
				"api":     "/api",
				"metrics": "/metrics",
				"webhook": "/webhook/:tenantID/messages",
			},
		})
	})

	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api")

	messages := api.Group("/messages")
	messages.Post("/", messageHandler.Enqueue)
	messages.Get("/:messageID", messageHandler.Get)

	if magicLinks != nil {
		magicLinkHandler := handlers.NewMagicLinkHandler(magicLinks)
		api.Post("/leads/:leadID/magic-link", magicLinkHandler.Send)
		app.Get("/auth/magic", magicLinkHandler.Validate)
	}

	// ========== WEBHOOK ROUTES ==========
	// Signature verification always runs; there is no development bypass for
	// webhook authentication.
	webhooks := app.Group("/webhook")
	webhooks.Post("/:tenantID/messages", middleware.ValidateWebhookSignature(webhookProcessor), webhookHandler.HandleInbound)
}
