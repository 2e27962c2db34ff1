package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
)

// MemoryStore holds all data in memory - used by tests and local development
type MemoryStore struct {
	outbound     map[string]*models.OutboundMessage // keyed by MessageID
	inbound      map[string]*models.InboundMessage  // keyed by tenantID+providerMessageID
	leads        map[string]*models.Lead            // keyed by LeadID
	appointments map[string]*models.Appointment     // keyed by AppointmentID
	rateLimits   map[string]*models.RateLimitState  // keyed by tenantID+channel
	overrides    map[string]*models.TenantQuotaOverride
	windows      map[string]*models.SessionWindow // keyed by tenantID+phone
	tenants      map[string]*models.TenantSettings

	mu sync.RWMutex

	idCounter uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outbound:     make(map[string]*models.OutboundMessage),
		inbound:      make(map[string]*models.InboundMessage),
		leads:        make(map[string]*models.Lead),
		appointments: make(map[string]*models.Appointment),
		rateLimits:   make(map[string]*models.RateLimitState),
		overrides:    make(map[string]*models.TenantQuotaOverride),
		windows:      make(map[string]*models.SessionWindow),
		tenants:      make(map[string]*models.TenantSettings),
	}
}

func stateKey(tenantID, channel string) string {
	return tenantID + "|" + channel
}

func (m *MemoryStore) nextID() uint {
	m.idCounter++
	return m.idCounter
}

// Outbound message operations

func (m *MemoryStore) CreateOutboundMessage(msg *models.OutboundMessage) (*models.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Enforce the (tenant, idempotency key) uniqueness the DB index provides
	if msg.IdempotencyKey != "" {
		for _, existing := range m.outbound {
			if existing.TenantID == msg.TenantID && existing.IdempotencyKey == msg.IdempotencyKey {
				return nil, fmt.Errorf("duplicate idempotency key %q for tenant %s", msg.IdempotencyKey, msg.TenantID)
			}
		}
	}

	if msg.MessageID == "" {
		msg.MessageID = "MSG-" + uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusQueued
	}
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = 3
	}
	msg.ID = m.nextID()
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = time.Now()

	// Store a copy so callers mutating their message never race readers
	copied := *msg
	m.outbound[msg.MessageID] = &copied
	return msg, nil
}

func (m *MemoryStore) GetOutboundMessage(messageID string) (*models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, exists := m.outbound[messageID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (m *MemoryStore) GetOutboundMessageByIdempotencyKey(tenantID, key string) (*models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.outbound {
		if msg.TenantID == tenantID && msg.IdempotencyKey == key {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateOutboundMessage(msg *models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.outbound[msg.MessageID]; !exists {
		return ErrNotFound
	}
	msg.UpdatedAt = time.Now()
	copied := *msg
	m.outbound[msg.MessageID] = &copied
	return nil
}

func (m *MemoryStore) GetDispatchableMessages(now time.Time, limit int) ([]*models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.OutboundMessage
	for _, msg := range m.outbound {
		if msg.Status != models.MessageStatusQueued {
			continue
		}
		if msg.NextAttemptAt != nil && msg.NextAttemptAt.After(now) {
			continue
		}
		copied := *msg
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryStore) GetThrottledMessagesByTenant(tenantID string) ([]*models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.OutboundMessage
	for _, msg := range m.outbound {
		if msg.TenantID == tenantID && msg.Status == models.MessageStatusThrottled {
			copied := *msg
			results = append(results, &copied)
		}
	}
	return results, nil
}

func (m *MemoryStore) CountMessagesByStatus(statuses ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, msg := range m.outbound {
		for _, status := range statuses {
			if msg.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) GetStuckMessages(olderThan time.Time, minAttempts int) ([]*models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.OutboundMessage
	for _, msg := range m.outbound {
		if msg.Status != models.MessageStatusQueued && msg.Status != models.MessageStatusSending {
			continue
		}
		if msg.CreatedAt.Before(olderThan) && msg.AttemptCount >= minAttempts {
			copied := *msg
			results = append(results, &copied)
		}
	}
	return results, nil
}

// Inbound message operations

func (m *MemoryStore) CreateInboundMessage(msg *models.InboundMessage) (*models.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.TenantID + "|" + msg.ProviderMessageID
	if _, exists := m.inbound[key]; exists {
		return nil, fmt.Errorf("inbound message %s already recorded", msg.ProviderMessageID)
	}

	msg.ID = m.nextID()
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = time.Now()
	m.inbound[key] = msg
	return msg, nil
}

func (m *MemoryStore) GetInboundMessageByProviderID(tenantID, providerMessageID string) (*models.InboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, exists := m.inbound[tenantID+"|"+providerMessageID]
	if !exists {
		return nil, ErrNotFound
	}
	return msg, nil
}

// Lead operations

func (m *MemoryStore) CreateLead(lead *models.Lead) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lead.LeadID == "" {
		lead.LeadID = "LEAD-" + uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	lead.ID = m.nextID()
	lead.CreatedAt = time.Now()
	lead.UpdatedAt = time.Now()

	m.leads[lead.LeadID] = lead
	return lead, nil
}

func (m *MemoryStore) GetLead(leadID string) (*models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lead, exists := m.leads[leadID]
	if !exists {
		return nil, ErrNotFound
	}
	return lead, nil
}

func (m *MemoryStore) GetActiveLeadByPhone(tenantID, phone string) (*models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, lead := range m.leads {
		if lead.TenantID == tenantID && lead.Phone == phone && !lead.IsTerminal() {
			return lead, nil
		}
	}
	return nil, ErrNotFound
}

// Appointment operations

func (m *MemoryStore) CreateAppointment(appt *models.Appointment) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if appt.AppointmentID == "" {
		appt.AppointmentID = "APPT-" + uuid.NewString()
	}
	appt.ID = m.nextID()
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = time.Now()

	m.appointments[appt.AppointmentID] = appt
	return appt, nil
}

func (m *MemoryStore) GetAppointmentsNeedingReminder(windowEnd time.Time) ([]*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var results []*models.Appointment
	for _, appt := range m.appointments {
		if !appt.ReminderSent && appt.StartsAt.After(now) && appt.StartsAt.Before(windowEnd) {
			results = append(results, appt)
		}
	}
	return results, nil
}

func (m *MemoryStore) UpdateAppointment(appt *models.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.appointments[appt.AppointmentID]; !exists {
		return ErrNotFound
	}
	appt.UpdatedAt = time.Now()
	m.appointments[appt.AppointmentID] = appt
	return nil
}

// Rate limit operations

func (m *MemoryStore) GetRateLimitState(tenantID, channel string) (*models.RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.rateLimits[stateKey(tenantID, channel)]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *MemoryStore) SaveRateLimitState(state *models.RateLimitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.ID == 0 {
		state.ID = m.nextID()
		state.CreatedAt = time.Now()
	}
	state.UpdatedAt = time.Now()
	copied := *state
	m.rateLimits[stateKey(state.TenantID, state.Channel)] = &copied
	return nil
}

func (m *MemoryStore) ListRateLimitStates() ([]*models.RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.RateLimitState
	for _, state := range m.rateLimits {
		copied := *state
		results = append(results, &copied)
	}
	return results, nil
}

func (m *MemoryStore) GetQuotaOverride(tenantID, channel string) (*models.TenantQuotaOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	override, exists := m.overrides[stateKey(tenantID, channel)]
	if !exists {
		return nil, ErrNotFound
	}
	return override, nil
}

// SetQuotaOverride seeds a per-tenant limit (tests and local development)
func (m *MemoryStore) SetQuotaOverride(override *models.TenantQuotaOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[stateKey(override.TenantID, override.Channel)] = override
}

// Session window operations

func (m *MemoryStore) GetSessionWindow(tenantID, phone string) (*models.SessionWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window, exists := m.windows[stateKey(tenantID, phone)]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *window
	return &copied, nil
}

func (m *MemoryStore) SaveSessionWindow(window *models.SessionWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if window.ID == 0 {
		window.ID = m.nextID()
		window.CreatedAt = time.Now()
	}
	window.UpdatedAt = time.Now()
	copied := *window
	m.windows[stateKey(window.TenantID, window.Phone)] = &copied
	return nil
}

func (m *MemoryStore) DeleteSessionWindowsExpiredBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, window := range m.windows {
		if window.WindowExpiresAt.Before(cutoff) {
			delete(m.windows, key)
			deleted++
		}
	}
	return deleted, nil
}

// Tenant operations

func (m *MemoryStore) GetTenantSettings(tenantID string) (*models.TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings, exists := m.tenants[tenantID]
	if !exists {
		return nil, ErrNotFound
	}
	return settings, nil
}

func (m *MemoryStore) CreateTenantSettings(settings *models.TenantSettings) (*models.TenantSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[settings.TenantID]; exists {
		return nil, fmt.Errorf("tenant %s already exists", settings.TenantID)
	}
	settings.ID = m.nextID()
	settings.CreatedAt = time.Now()
	settings.UpdatedAt = time.Now()
	m.tenants[settings.TenantID] = settings
	return settings, nil
}
