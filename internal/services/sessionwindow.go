package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// SessionWindowService tracks the WhatsApp customer-service window. Every
// inbound message opens or extends a 24h window keyed by (tenant, phone);
// freeform outbound sends are only allowed while a window is open.
type SessionWindowService struct {
	store  storage.Store
	window time.Duration
}

// NewSessionWindowService creates a session window service
func NewSessionWindowService(store storage.Store, cfg *config.Config) *SessionWindowService {
	return &SessionWindowService{
		store:  store,
		window: cfg.SessionWindow(),
	}
}

// NormalizePhone reduces a phone number to digits with a single leading plus,
// so "+1 (555) 123-4567" and "15551234567" key the same window.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// RecordInbound opens or extends the window for a contact. The window always
// runs a full duration from the inbound timestamp, so consecutive replies
// keep pushing the expiry out.
func (s *SessionWindowService) RecordInbound(tenantID, phone string, at time.Time) error {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return fmt.Errorf("cannot record inbound for empty phone number")
	}

	window, err := s.store.GetSessionWindow(tenantID, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		window = &models.SessionWindow{
			TenantID: tenantID,
			Phone:    normalized,
		}
	} else if err != nil {
		return fmt.Errorf("failed to load session window: %w", err)
	}

	window.LastInboundAt = at
	window.WindowOpensAt = at
	window.WindowExpiresAt = at.Add(s.window)

	if err := s.store.SaveSessionWindow(window); err != nil {
		return fmt.Errorf("failed to save session window: %w", err)
	}

	log.WithFields(log.Fields{
		"tenant_id": tenantID,
		"phone":     normalized,
		"expires":   window.WindowExpiresAt,
	}).Debug("session window extended")

	return nil
}

// IsWithinWindow reports whether a freeform message to this contact is
// currently allowed. No recorded window means no inbound has ever arrived,
// which is a closed window.
func (s *SessionWindowService) IsWithinWindow(tenantID, phone string, now time.Time) (bool, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return false, nil
	}

	window, err := s.store.GetSessionWindow(tenantID, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session window: %w", err)
	}

	return now.Before(window.WindowExpiresAt), nil
}

// RecordOutbound stamps the last outbound time on an existing window. Outbound
// traffic never opens or extends a window; a contact we message without any
// prior inbound simply has no window row.
func (s *SessionWindowService) RecordOutbound(tenantID, phone string, at time.Time) error {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil
	}

	window, err := s.store.GetSessionWindow(tenantID, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session window: %w", err)
	}

	window.LastOutboundAt = &at
	return s.store.SaveSessionWindow(window)
}

// CleanupExpired deletes window rows whose expiry is older than the retention
// cutoff. Recently expired rows are kept around for support queries.
func (s *SessionWindowService) CleanupExpired(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := s.store.DeleteSessionWindowsExpiredBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("session window cleanup failed: %w", err)
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("expired session windows cleaned up")
	}
	return deleted, nil
}
