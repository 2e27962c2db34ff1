package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/metrics"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// SweepScheduler runs the periodic maintenance sweeps: quota window resets,
// session window cleanup, queue health alerting and appointment reminders.
// Each sweep skips its tick if the previous run is still going.
type SweepScheduler struct {
	cron         *cron.Cron
	store        storage.Store
	cfg          *config.Config
	quota        *services.QuotaTracker
	sessions     *services.SessionWindowService
	orchestrator *services.Orchestrator
}

// NewSweepScheduler creates a sweep scheduler
func NewSweepScheduler(store storage.Store, cfg *config.Config, quota *services.QuotaTracker, sessions *services.SessionWindowService, orchestrator *services.Orchestrator) *SweepScheduler {
	return &SweepScheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		store:        store,
		cfg:          cfg,
		quota:        quota,
		sessions:     sessions,
		orchestrator: orchestrator,
	}
}

// Start registers and launches all sweeps.
func (s *SweepScheduler) Start() error {
	schedules := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"quota_reset", s.cfg.QuotaSweepInterval, s.quota.ResetSweep},
		{"session_cleanup", s.cfg.SessionCleanupInterval, s.sessionCleanup},
		{"alerting", s.cfg.AlertSweepInterval, s.alertingSweep},
		{"appointment_reminders", s.cfg.ReminderSweepInterval, s.reminderSweep},
	}

	for _, sched := range schedules {
		spec := fmt.Sprintf("@every %s", sched.interval)
		if _, err := s.cron.AddFunc(spec, sched.fn); err != nil {
			return fmt.Errorf("failed to schedule %s sweep: %w", sched.name, err)
		}
		log.WithFields(log.Fields{
			"sweep":    sched.name,
			"interval": sched.interval,
		}).Info("sweep scheduled")
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running sweeps to finish.
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("sweep scheduler stopped")
}

func (s *SweepScheduler) sessionCleanup() {
	if _, err := s.sessions.CleanupExpired(s.cfg.SessionCleanupRetention); err != nil {
		log.WithError(err).Error("session cleanup sweep failed")
	}
}

// alertingSweep observes queue health and raises alerts through logs and
// metrics. It never mutates message state; recovery of stuck messages is an
// operator decision.
func (s *SweepScheduler) alertingSweep() {
	now := time.Now().UTC()

	stuck, err := s.store.GetStuckMessages(now.Add(-s.cfg.StuckMessageAge), s.cfg.StuckMessageAttempts)
	if err != nil {
		log.WithError(err).Error("alerting sweep failed to query stuck messages")
	} else {
		metrics.StuckMessages.Set(float64(len(stuck)))
		for _, msg := range stuck {
			log.WithFields(log.Fields{
				"message_id": msg.MessageID,
				"tenant_id":  msg.TenantID,
				"channel":    msg.Channel,
				"status":     msg.Status,
				"updated_at": msg.UpdatedAt,
				"attempts":   msg.AttemptCount,
			}).Warn("ALERT: message stuck in dispatch")
		}
	}

	queued, err := s.store.CountMessagesByStatus(models.MessageStatusQueued, models.MessageStatusSending)
	if err != nil {
		log.WithError(err).Error("alerting sweep failed to count queue depth")
	} else {
		metrics.QueueDepth.Set(float64(queued))
		if queued > s.cfg.QueueDepthThreshold {
			log.WithFields(log.Fields{
				"depth":     queued,
				"threshold": s.cfg.QueueDepthThreshold,
			}).Warn("ALERT: outbound queue depth above threshold")
		}
	}

	failed, err := s.store.CountMessagesByStatus(models.MessageStatusFailed)
	if err != nil {
		log.WithError(err).Error("alerting sweep failed to count dead letters")
	} else {
		metrics.DeadLetterDepth.Set(float64(failed))
		if failed > s.cfg.DeadLetterThreshold {
			log.WithFields(log.Fields{
				"failed":    failed,
				"threshold": s.cfg.DeadLetterThreshold,
			}).Warn("ALERT: dead letter count above threshold")
		}
	}
}

// reminderSweep enqueues a reminder for every appointment entering the lead
// time window. The deterministic idempotency key makes the sweep safe to
// re-run even when marking ReminderSent fails.
func (s *SweepScheduler) reminderSweep() {
	windowEnd := time.Now().UTC().Add(s.cfg.ReminderLeadTime)
	appts, err := s.store.GetAppointmentsNeedingReminder(windowEnd)
	if err != nil {
		log.WithError(err).Error("reminder sweep failed to query appointments")
		return
	}

	for _, appt := range appts {
		if err := s.sendReminder(appt); err != nil {
			log.WithError(err).WithField("appointment_id", appt.AppointmentID).Error("failed to send appointment reminder")
		}
	}
}

func (s *SweepScheduler) sendReminder(appt *models.Appointment) error {
	lead, err := s.store.GetLead(appt.LeadID)
	if err != nil {
		return fmt.Errorf("lead lookup failed: %w", err)
	}

	starts := appt.StartsAt.UTC()
	_, _, err = s.orchestrator.Enqueue(services.EnqueueRequest{
		TenantID:     appt.TenantID,
		LeadID:       lead.LeadID,
		Channel:      models.ChannelWhatsApp,
		Recipient:    lead.Phone,
		TemplateCode: "appointment_reminder",
		Payload: map[string]string{
			"name": lead.Name,
			"date": starts.Format("Monday, 2 January"),
			"time": starts.Format("15:04"),
		},
		IdempotencyKey: fmt.Sprintf("appt-%s-reminder", appt.AppointmentID),
		ConsentType:    "transactional",
	})
	if err != nil {
		return err
	}

	appt.ReminderSent = true
	if err := s.store.UpdateAppointment(appt); err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}

	log.WithFields(log.Fields{
		"appointment_id": appt.AppointmentID,
		"lead_id":        lead.LeadID,
		"starts_at":      appt.StartsAt,
	}).Info("appointment reminder enqueued")

	return nil
}
