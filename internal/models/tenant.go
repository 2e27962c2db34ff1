package models

import (
	"time"

	"gorm.io/gorm"
)

// TenantSettings holds the per-tenant configuration this core reads:
// the webhook signing secret and a display name. Auth context resolution
// lives outside this service.
type TenantSettings struct {
	gorm.Model

	TenantID      string `json:"tenant_id" gorm:"uniqueIndex"`
	Name          string `json:"name"`
	WebhookSecret string `json:"-"` // never serialized
}

// TenantQuotaOverride overrides the global per-channel quota for one tenant.
type TenantQuotaOverride struct {
	gorm.Model

	TenantID string `json:"tenant_id" gorm:"uniqueIndex:idx_quota_override"`
	Channel  string `json:"channel" gorm:"uniqueIndex:idx_quota_override"`
	Limit    int    `json:"limit"`
}

// RateLimitState is the persisted quota counter for one (tenant, channel).
// ThrottledUntil is set by an explicit provider rate-limit signal and blocks
// sends regardless of the local counter.
type RateLimitState struct {
	gorm.Model

	TenantID       string     `json:"tenant_id" gorm:"uniqueIndex:idx_rate_limit"`
	Channel        string     `json:"channel" gorm:"uniqueIndex:idx_rate_limit"`
	Limit          int        `json:"limit"`
	Count          int        `json:"count"`
	WindowResetAt  time.Time  `json:"window_reset_at"`
	ThrottledUntil *time.Time `json:"throttled_until"`
}

// Throttled reports whether a provider-signalled throttle is still active.
func (r *RateLimitState) Throttled(now time.Time) bool {
	return r.ThrottledUntil != nil && now.Before(*r.ThrottledUntil)
}

// SessionWindow tracks the WhatsApp 24h customer-service window for one
// (tenant, normalized phone). Only inbound messages open or extend the
// window; outbound sends update LastOutboundAt and nothing else.
type SessionWindow struct {
	gorm.Model

	TenantID        string     `json:"tenant_id" gorm:"uniqueIndex:idx_session_window"`
	Phone           string     `json:"phone" gorm:"uniqueIndex:idx_session_window"`
	LastInboundAt   time.Time  `json:"last_inbound_at"`
	WindowOpensAt   time.Time  `json:"window_opens_at"`
	WindowExpiresAt time.Time  `json:"window_expires_at"`
	LastOutboundAt  *time.Time `json:"last_outbound_at"`
}
