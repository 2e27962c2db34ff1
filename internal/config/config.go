package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config holds all recognized options. Values come from the environment
// (optionally seeded from a .env file for local development).
type Config struct {
	Port           string `envconfig:"PORT" default:"8080"`
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	UseMemoryStore bool   `envconfig:"USE_MEMORY_STORE" default:"false"`

	// Delivery
	MaxDeliveryAttempts int           `envconfig:"MAX_DELIVERY_ATTEMPTS" default:"3"`
	ProviderSendTimeout time.Duration `envconfig:"PROVIDER_SEND_TIMEOUT" default:"30s"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"30s"`
	DispatchInterval    time.Duration `envconfig:"DISPATCH_INTERVAL" default:"10s"`
	DispatchBatchSize   int           `envconfig:"DISPATCH_BATCH_SIZE" default:"50"`
	DispatchWorkers     int           `envconfig:"DISPATCH_WORKERS" default:"8"`

	// Quotas
	DefaultQuotaWhatsApp int           `envconfig:"QUOTA_WHATSAPP" default:"1000"`
	DefaultQuotaSMS      int           `envconfig:"QUOTA_SMS" default:"500"`
	DefaultQuotaEmail    int           `envconfig:"QUOTA_EMAIL" default:"2000"`
	QuotaWindow          time.Duration `envconfig:"QUOTA_WINDOW" default:"24h"`
	QuotaSweepInterval   time.Duration `envconfig:"QUOTA_SWEEP_INTERVAL" default:"2m"`
	ThrottleFallback     time.Duration `envconfig:"THROTTLE_FALLBACK" default:"5m"`

	// WhatsApp session window
	SessionWindowHours      int           `envconfig:"SESSION_WINDOW_HOURS" default:"24"`
	SessionCleanupRetention time.Duration `envconfig:"SESSION_CLEANUP_RETENTION" default:"72h"`
	SessionCleanupInterval  time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" default:"1h"`

	// Alerting sweep
	AlertSweepInterval   time.Duration `envconfig:"ALERT_SWEEP_INTERVAL" default:"5m"`
	StuckMessageAge      time.Duration `envconfig:"STUCK_MESSAGE_AGE" default:"15m"`
	StuckMessageAttempts int           `envconfig:"STUCK_MESSAGE_ATTEMPTS" default:"1"`
	QueueDepthThreshold  int64         `envconfig:"QUEUE_DEPTH_THRESHOLD" default:"1000"`
	DeadLetterThreshold  int64         `envconfig:"DEAD_LETTER_THRESHOLD" default:"100"`

	// Appointment reminders
	ReminderLeadTime      time.Duration `envconfig:"REMINDER_LEAD_TIME" default:"24h"`
	ReminderSweepInterval time.Duration `envconfig:"REMINDER_SWEEP_INTERVAL" default:"5m"`

	// Magic links
	MagicLinkSecret  string        `envconfig:"MAGIC_LINK_SECRET"`
	MagicLinkBaseURL string        `envconfig:"MAGIC_LINK_BASE_URL" default:"https://app.leadpilot.io/login"`
	MagicLinkTTL     time.Duration `envconfig:"MAGIC_LINK_TTL" default:"15m"`

	// Twilio (WhatsApp + SMS)
	TwilioAccountSID   string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioSMSFrom      string `envconfig:"TWILIO_SMS_FROM"`
	TwilioWhatsAppFrom string `envconfig:"TWILIO_WHATSAPP_FROM"` // Format: "whatsapp:+14155238886"

	// SMTP (email)
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		if err := godotenv.Load("environments/.env.development"); err != nil {
			log.Info("no .env file found - using environment variables")
		}
	}

	var cfg Config
	if err := envconfig.Process("LEADPILOT", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultQuota returns the global per-channel quota used when a tenant has
// no override row.
func (c *Config) DefaultQuota(channel string) int {
	switch channel {
	case "WHATSAPP":
		return c.DefaultQuotaWhatsApp
	case "SMS":
		return c.DefaultQuotaSMS
	case "EMAIL":
		return c.DefaultQuotaEmail
	default:
		return c.DefaultQuotaSMS
	}
}

// SessionWindow returns the service window length as a duration.
func (c *Config) SessionWindow() time.Duration {
	return time.Duration(c.SessionWindowHours) * time.Hour
}
