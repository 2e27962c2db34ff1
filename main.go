package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/database"
	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/jobs"
	"github.com/leadpilot-hq/leadpilot-backend/internal/providers"
	"github.com/leadpilot-hq/leadpilot-backend/internal/routes"
	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Initialize storage
	var store storage.Store
	if cfg.UseMemoryStore {
		log.Warn("using in-memory storage (not for production)")
		store = storage.NewMemoryStore()
	} else {
		db, err := database.Connect()
		if err != nil {
			log.Fatalf("database initialization failed: %v", err)
		}
		store = storage.NewDatabaseStore(db)
	}
	storage.SetStore(store)

	// Provider adapters. Channels with no credentials are simply absent;
	// dispatch fails those messages with NO_ADAPTER instead of panicking.
	var adapters []providers.Adapter
	if whatsapp, err := providers.NewWhatsAppAdapter(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom); err != nil {
		log.WithError(err).Warn("WhatsApp adapter not configured")
	} else {
		adapters = append(adapters, whatsapp)
	}
	if sms, err := providers.NewSMSAdapter(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioSMSFrom); err != nil {
		log.WithError(err).Warn("SMS adapter not configured")
	} else {
		adapters = append(adapters, sms)
	}
	if email, err := providers.NewEmailAdapter(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom); err != nil {
		log.WithError(err).Warn("email adapter not configured")
	} else {
		adapters = append(adapters, email)
	}

	// Core services
	templates := services.NewTemplateService()
	quota := services.NewQuotaTracker(store, cfg)
	sessions := services.NewSessionWindowService(store, cfg)
	orchestrator := services.NewOrchestrator(store, cfg, quota, sessions, templates, adapters)
	webhookProcessor := services.NewWebhookProcessor(store, sessions)

	var magicLinks *services.MagicLinkService
	if ml, err := services.NewMagicLinkService(store, orchestrator, cfg); err != nil {
		log.WithError(err).Warn("magic links not configured")
	} else {
		magicLinks = ml
	}

	// Background workers
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := jobs.NewDispatchWorker(store, orchestrator, cfg)
	dispatcher.Start(ctx)

	sweeps := jobs.NewSweepScheduler(store, cfg, quota, sessions, orchestrator)
	if err := sweeps.Start(); err != nil {
		log.Fatalf("failed to start sweep scheduler: %v", err)
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "LeadPilot Messaging v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Tenant-ID, Idempotency-Key",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	routes.SetupRoutes(app, store, orchestrator, webhookProcessor, magicLinks)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		sweeps.Stop()
		dispatcher.Stop()
		_ = app.Shutdown()
	}()

	log.WithFields(log.Fields{
		"port":        cfg.Port,
		"environment": cfg.Environment,
		"channels":    len(adapters),
	}).Info("LeadPilot messaging service starting")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
