package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxDeliveryAttempts:  3,
		ProviderSendTimeout:  5 * time.Second,
		RetryBaseDelay:       30 * time.Second,
		DefaultQuotaWhatsApp: 3,
		DefaultQuotaSMS:      2,
		DefaultQuotaEmail:    5,
		QuotaWindow:          24 * time.Hour,
		ThrottleFallback:     5 * time.Minute,
		SessionWindowHours:   24,
	}
}

func TestTryConsumeWithinLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	for i := 0; i < 3; i++ {
		decision, err := tracker.TryConsume("tenant-1", models.ChannelWhatsApp)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "send %d should be within quota", i+1)
	}

	decision, err := tracker.TryConsume("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.False(t, decision.ResetAt.IsZero())
}

func TestQuotaIsPerTenantAndChannel(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	for i := 0; i < 2; i++ {
		decision, err := tracker.TryConsume("tenant-1", models.ChannelSMS)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	denied, err := tracker.TryConsume("tenant-1", models.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	// Exhausting tenant-1 SMS touches neither tenant-2 nor tenant-1 WhatsApp
	other, err := tracker.TryConsume("tenant-2", models.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	whatsapp, err := tracker.TryConsume("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.True(t, whatsapp.Allowed)
}

func TestQuotaOverrideBeatsDefault(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetQuotaOverride(&models.TenantQuotaOverride{
		TenantID: "tenant-vip",
		Channel:  models.ChannelSMS,
		Limit:    5,
	})
	tracker := NewQuotaTracker(store, testConfig())

	for i := 0; i < 5; i++ {
		decision, err := tracker.TryConsume("tenant-vip", models.ChannelSMS)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "override should allow %d sends", 5)
	}
	decision, err := tracker.TryConsume("tenant-vip", models.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestProviderThrottleSignalBlocksSends(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	decision, err := tracker.TryConsume("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	until, err := tracker.HandleProviderThrottleSignal("tenant-1", models.ChannelWhatsApp, 120)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Minute), until, 5*time.Second)

	// Quota still has headroom but the throttle wins
	decision, err = tracker.TryConsume("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, until, decision.ResetAt)
}

func TestProviderThrottleFallbackDuration(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	until, err := tracker.HandleProviderThrottleSignal("tenant-1", models.ChannelSMS, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), until, 5*time.Second)
}

func TestResetSweepRequeuesThrottledMessages(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testConfig()
	tracker := NewQuotaTracker(store, cfg)

	// An elapsed window with a counter at the limit
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.SaveRateLimitState(&models.RateLimitState{
		TenantID:      "tenant-1",
		Channel:       models.ChannelWhatsApp,
		Limit:         3,
		Count:         3,
		WindowResetAt: past,
	}))

	requeueAt := past
	throttled, err := store.CreateOutboundMessage(&models.OutboundMessage{
		TenantID:       "tenant-1",
		Channel:        models.ChannelWhatsApp,
		Recipient:      "+15550001111",
		TemplateCode:   "follow_up",
		Status:         models.MessageStatusThrottled,
		LastErrorCode:  ErrCodeQuotaExceeded,
		RequeueAt:      &requeueAt,
		IdempotencyKey: "key-throttled",
	})
	require.NoError(t, err)

	tracker.ResetSweep()

	refreshed, err := store.GetOutboundMessage(throttled.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusQueued, refreshed.Status)
	assert.Empty(t, refreshed.LastErrorCode)
	assert.Nil(t, refreshed.RequeueAt)

	state, err := store.GetRateLimitState("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
	assert.True(t, state.WindowResetAt.After(time.Now().UTC()))
}

func TestResetSweepClearsExpiredThrottle(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	expired := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.SaveRateLimitState(&models.RateLimitState{
		TenantID:       "tenant-1",
		Channel:        models.ChannelSMS,
		Limit:          2,
		Count:          1,
		WindowResetAt:  time.Now().UTC().Add(time.Hour),
		ThrottledUntil: &expired,
	}))

	tracker.ResetSweep()

	state, err := store.GetRateLimitState("tenant-1", models.ChannelSMS)
	require.NoError(t, err)
	assert.Nil(t, state.ThrottledUntil)

	decision, err := tracker.TryConsume("tenant-1", models.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestFirstDenialPersistsState(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testConfig()
	cfg.DefaultQuotaSMS = 0
	tracker := NewQuotaTracker(store, cfg)

	decision, err := tracker.TryConsume("tenant-1", models.ChannelSMS)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// The sweep lists persisted states; a denied-on-first-consume tenant must
	// still show up there or its throttled backlog is never requeued.
	states, err := store.ListRateLimitStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "tenant-1", states[0].TenantID)
	assert.Equal(t, models.ChannelSMS, states[0].Channel)
}

func TestWindowRollsLazilyOnConsume(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := NewQuotaTracker(store, testConfig())

	require.NoError(t, store.SaveRateLimitState(&models.RateLimitState{
		TenantID:      "tenant-1",
		Channel:       models.ChannelEmail,
		Limit:         5,
		Count:         5,
		WindowResetAt: time.Now().UTC().Add(-time.Second),
	}))

	decision, err := tracker.TryConsume("tenant-1", models.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "elapsed window should reset on next consume")

	state, err := store.GetRateLimitState("tenant-1", models.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
}
