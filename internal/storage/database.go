package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// DatabaseStore implements Store on PostgreSQL via gorm
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Outbound message operations

func (s *DatabaseStore) CreateOutboundMessage(msg *models.OutboundMessage) (*models.OutboundMessage, error) {
	if err := s.db.Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *DatabaseStore) GetOutboundMessage(messageID string) (*models.OutboundMessage, error) {
	var msg models.OutboundMessage
	if err := s.db.Where("message_id = ?", messageID).First(&msg).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &msg, nil
}

func (s *DatabaseStore) GetOutboundMessageByIdempotencyKey(tenantID, key string) (*models.OutboundMessage, error) {
	var msg models.OutboundMessage
	err := s.db.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).First(&msg).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &msg, nil
}

func (s *DatabaseStore) UpdateOutboundMessage(msg *models.OutboundMessage) error {
	return s.db.Save(msg).Error
}

func (s *DatabaseStore) GetDispatchableMessages(now time.Time, limit int) ([]*models.OutboundMessage, error) {
	var msgs []*models.OutboundMessage
	err := s.db.
		Where("status = ?", models.MessageStatusQueued).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at asc").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *DatabaseStore) GetThrottledMessagesByTenant(tenantID string) ([]*models.OutboundMessage, error) {
	var msgs []*models.OutboundMessage
	err := s.db.
		Where("tenant_id = ? AND status = ?", tenantID, models.MessageStatusThrottled).
		Find(&msgs).Error
	return msgs, err
}

func (s *DatabaseStore) CountMessagesByStatus(statuses ...string) (int64, error) {
	var count int64
	err := s.db.Model(&models.OutboundMessage{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	return count, err
}

func (s *DatabaseStore) GetStuckMessages(olderThan time.Time, minAttempts int) ([]*models.OutboundMessage, error) {
	var msgs []*models.OutboundMessage
	err := s.db.
		Where("status IN ?", []string{models.MessageStatusQueued, models.MessageStatusSending}).
		Where("created_at < ? AND attempt_count >= ?", olderThan, minAttempts).
		Find(&msgs).Error
	return msgs, err
}

// Inbound message operations

func (s *DatabaseStore) CreateInboundMessage(msg *models.InboundMessage) (*models.InboundMessage, error) {
	if err := s.db.Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *DatabaseStore) GetInboundMessageByProviderID(tenantID, providerMessageID string) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	err := s.db.
		Where("tenant_id = ? AND provider_message_id = ?", tenantID, providerMessageID).
		First(&msg).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &msg, nil
}

// Lead operations

func (s *DatabaseStore) CreateLead(lead *models.Lead) (*models.Lead, error) {
	if err := s.db.Create(lead).Error; err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *DatabaseStore) GetLead(leadID string) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.Where("lead_id = ?", leadID).First(&lead).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &lead, nil
}

func (s *DatabaseStore) GetActiveLeadByPhone(tenantID, phone string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		Where("status NOT IN ?", []string{models.LeadStatusClosed, models.LeadStatusLost}).
		Order("created_at desc").
		First(&lead).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &lead, nil
}

// Appointment operations

func (s *DatabaseStore) CreateAppointment(appt *models.Appointment) (*models.Appointment, error) {
	if err := s.db.Create(appt).Error; err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *DatabaseStore) GetAppointmentsNeedingReminder(windowEnd time.Time) ([]*models.Appointment, error) {
	var appts []*models.Appointment
	err := s.db.
		Where("reminder_sent = false").
		Where("starts_at > ? AND starts_at < ?", time.Now(), windowEnd).
		Find(&appts).Error
	return appts, err
}

func (s *DatabaseStore) UpdateAppointment(appt *models.Appointment) error {
	return s.db.Save(appt).Error
}

// Rate limit operations

func (s *DatabaseStore) GetRateLimitState(tenantID, channel string) (*models.RateLimitState, error) {
	var state models.RateLimitState
	err := s.db.Where("tenant_id = ? AND channel = ?", tenantID, channel).First(&state).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &state, nil
}

func (s *DatabaseStore) SaveRateLimitState(state *models.RateLimitState) error {
	return s.db.Save(state).Error
}

func (s *DatabaseStore) ListRateLimitStates() ([]*models.RateLimitState, error) {
	var states []*models.RateLimitState
	err := s.db.Find(&states).Error
	return states, err
}

func (s *DatabaseStore) GetQuotaOverride(tenantID, channel string) (*models.TenantQuotaOverride, error) {
	var override models.TenantQuotaOverride
	err := s.db.Where("tenant_id = ? AND channel = ?", tenantID, channel).First(&override).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &override, nil
}

// Session window operations

func (s *DatabaseStore) GetSessionWindow(tenantID, phone string) (*models.SessionWindow, error) {
	var window models.SessionWindow
	err := s.db.Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&window).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &window, nil
}

func (s *DatabaseStore) SaveSessionWindow(window *models.SessionWindow) error {
	return s.db.Save(window).Error
}

func (s *DatabaseStore) DeleteSessionWindowsExpiredBefore(cutoff time.Time) (int64, error) {
	result := s.db.
		Where("window_expires_at < ?", cutoff).
		Delete(&models.SessionWindow{})
	return result.RowsAffected, result.Error
}

// Tenant operations

func (s *DatabaseStore) GetTenantSettings(tenantID string) (*models.TenantSettings, error) {
	var settings models.TenantSettings
	if err := s.db.Where("tenant_id = ?", tenantID).First(&settings).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &settings, nil
}

func (s *DatabaseStore) CreateTenantSettings(settings *models.TenantSettings) (*models.TenantSettings, error) {
	if err := s.db.Create(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}
