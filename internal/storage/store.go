package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// ErrNotFound is returned by lookups when no matching row exists.
var ErrNotFound = errors.New("record not found")

var (
	storeInstance Store
	storeMu       sync.RWMutex
)

// SetStore sets the global store instance (call from main.go)
func SetStore(s Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storeInstance = s
}

// GetStore returns the global store instance
func GetStore() Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return storeInstance
}

// Store defines the interface for storage operations
type Store interface {
	// Outbound message operations
	CreateOutboundMessage(msg *models.OutboundMessage) (*models.OutboundMessage, error)
	GetOutboundMessage(messageID string) (*models.OutboundMessage, error)
	GetOutboundMessageByIdempotencyKey(tenantID, key string) (*models.OutboundMessage, error)
	UpdateOutboundMessage(msg *models.OutboundMessage) error
	GetDispatchableMessages(now time.Time, limit int) ([]*models.OutboundMessage, error)
	GetThrottledMessagesByTenant(tenantID string) ([]*models.OutboundMessage, error)
	CountMessagesByStatus(statuses ...string) (int64, error)
	GetStuckMessages(olderThan time.Time, minAttempts int) ([]*models.OutboundMessage, error)

	// Inbound message operations
	CreateInboundMessage(msg *models.InboundMessage) (*models.InboundMessage, error)
	GetInboundMessageByProviderID(tenantID, providerMessageID string) (*models.InboundMessage, error)

	// Lead operations (narrow collaborator surface)
	CreateLead(lead *models.Lead) (*models.Lead, error)
	GetLead(leadID string) (*models.Lead, error)
	GetActiveLeadByPhone(tenantID, phone string) (*models.Lead, error)

	// Appointment operations (reminder job)
	CreateAppointment(appt *models.Appointment) (*models.Appointment, error)
	GetAppointmentsNeedingReminder(windowEnd time.Time) ([]*models.Appointment, error)
	UpdateAppointment(appt *models.Appointment) error

	// Rate limit operations
	GetRateLimitState(tenantID, channel string) (*models.RateLimitState, error)
	SaveRateLimitState(state *models.RateLimitState) error
	ListRateLimitStates() ([]*models.RateLimitState, error)
	GetQuotaOverride(tenantID, channel string) (*models.TenantQuotaOverride, error)

	// Session window operations
	GetSessionWindow(tenantID, phone string) (*models.SessionWindow, error)
	SaveSessionWindow(window *models.SessionWindow) error
	DeleteSessionWindowsExpiredBefore(cutoff time.Time) (int64, error)

	// Tenant operations
	GetTenantSettings(tenantID string) (*models.TenantSettings, error)
	CreateTenantSettings(settings *models.TenantSettings) (*models.TenantSettings, error)
}
