package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot-hq/leadpilot-backend/internal/models"
	"github.com/leadpilot-hq/leadpilot-backend/internal/providers"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// fakeAdapter returns scripted results and counts provider calls.
type fakeAdapter struct {
	channel string
	results []providers.SendResult
	calls   int
}

func (f *fakeAdapter) Supports(channel string) bool { return channel == f.channel }

func (f *fakeAdapter) Send(ctx context.Context, recipient string, content providers.Content) providers.SendResult {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]
}

func successResult() providers.SendResult {
	return providers.SendResult{Success: true, ProviderMessageID: "SM123"}
}

func newTestOrchestrator(store *storage.MemoryStore, adapters ...providers.Adapter) *Orchestrator {
	cfg := testConfig()
	return NewOrchestrator(
		store,
		cfg,
		NewQuotaTracker(store, cfg),
		NewSessionWindowService(store, cfg),
		NewTemplateService(),
		adapters,
	)
}

func enqueueTestMessage(t *testing.T, o *Orchestrator, key string) *models.OutboundMessage {
	t.Helper()
	msg, created, err := o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-1",
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+15551234567",
		TemplateCode: "follow_up",
		Payload: map[string]string{
			"name":  "Priya",
			"topic": "solar panels",
		},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func TestEnqueueValidatesTemplate(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store)

	_, _, err := o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-1",
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+15551234567",
		TemplateCode: "no_such_template",
	})
	assert.Error(t, err)

	_, _, err = o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-1",
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+15551234567",
		TemplateCode: "follow_up",
		Payload:      map[string]string{"name": "Priya"},
	})
	assert.ErrorContains(t, err, "topic")
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store)

	first := enqueueTestMessage(t, o, "key-1")

	again, created, err := o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-1",
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+15551234567",
		TemplateCode: "follow_up",
		Payload: map[string]string{
			"name":  "Priya",
			"topic": "solar panels",
		},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.MessageID, again.MessageID)

	count, err := store.CountMessagesByStatus(models.MessageStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIdempotencyKeysAreTenantScoped(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store)

	first := enqueueTestMessage(t, o, "shared-key")

	other, created, err := o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-2",
		Channel:      models.ChannelWhatsApp,
		Recipient:    "+15557654321",
		TemplateCode: "follow_up",
		Payload: map[string]string{
			"name":  "Alex",
			"topic": "pricing",
		},
		IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.MessageID, other.MessageID)
}

func TestDispatchSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, refreshed.Status)
	assert.Equal(t, "SM123", refreshed.ProviderMessageID)
	assert.Equal(t, 1, refreshed.AttemptCount)
	assert.Empty(t, refreshed.LastErrorCode)
	assert.Equal(t, 1, adapter.calls)
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{
		{ErrorCode: "63012", ErrorMessage: "channel internal error", Retryable: true},
	}}
	o := newTestOrchestrator(store, adapter)

	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusQueued, refreshed.Status)
	assert.Equal(t, 1, refreshed.AttemptCount)
	assert.Equal(t, "63012", refreshed.LastErrorCode)
	require.NotNil(t, refreshed.NextAttemptAt)
	assert.True(t, refreshed.NextAttemptAt.After(time.Now()))
}

func TestDispatchExhaustsRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{
		{ErrorCode: "63012", Retryable: true},
	}}
	o := newTestOrchestrator(store, adapter)

	msg := enqueueTestMessage(t, o, "key-1")
	for i := 0; i < 3; i++ {
		msg.NextAttemptAt = nil
		msg.Status = models.MessageStatusQueued
		require.NoError(t, store.UpdateOutboundMessage(msg))
		require.NoError(t, o.Dispatch(context.Background(), msg))
	}

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, refreshed.Status)
	assert.Equal(t, 3, refreshed.AttemptCount)
	assert.Equal(t, 3, adapter.calls)
}

func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{
		{ErrorCode: "63024", ErrorMessage: "invalid message recipient", Retryable: false},
	}}
	o := newTestOrchestrator(store, adapter)

	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, refreshed.Status)
	assert.Equal(t, 1, refreshed.AttemptCount)
	assert.Equal(t, 1, adapter.calls)
}

func TestProviderRateLimitDoesNotConsumeAttempt(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{
		{ErrorCode: "63038", Retryable: true, RateLimited: true, RetryAfterSeconds: 60},
	}}
	o := newTestOrchestrator(store, adapter)

	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusThrottled, refreshed.Status)
	assert.Equal(t, 0, refreshed.AttemptCount, "a rate limit is not a delivery failure")
	require.NotNil(t, refreshed.RequeueAt)

	// The channel is now paused for the whole tenant
	state, err := store.GetRateLimitState("tenant-1", models.ChannelWhatsApp)
	require.NoError(t, err)
	require.NotNil(t, state.ThrottledUntil)
}

func TestQuotaExhaustionThrottlesWithoutProviderCall(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	// Quota of 3; dispatch four messages
	var msgs []*models.OutboundMessage
	for _, key := range []string{"k1", "k2", "k3", "k4"} {
		msgs = append(msgs, enqueueTestMessage(t, o, key))
	}
	for _, msg := range msgs {
		require.NoError(t, o.Dispatch(context.Background(), msg))
	}

	assert.Equal(t, 3, adapter.calls, "the throttled message must not reach the provider")

	last, err := store.GetOutboundMessage(msgs[3].MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusThrottled, last.Status)
	assert.Equal(t, ErrCodeQuotaExceeded, last.LastErrorCode)
	assert.Equal(t, 0, last.AttemptCount)
	require.NotNil(t, last.RequeueAt)
}

func TestEnqueueFreeformWithoutBody(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store)

	_, _, err := o.Enqueue(EnqueueRequest{
		TenantID:  "tenant-1",
		Channel:   models.ChannelWhatsApp,
		Recipient: "+15551234567",
	})
	assert.ErrorContains(t, err, "body")
}

func TestFreeformOutsideWindowFailsWithoutProviderCall(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	// No template code at all: a freeform send. The recipient never wrote in,
	// so the service window is closed.
	msg, created, err := o.Enqueue(EnqueueRequest{
		TenantID:       "tenant-1",
		Channel:        models.ChannelWhatsApp,
		Recipient:      "+15551234567",
		Payload:        map[string]string{"body": "Quick question about your visit"},
		IdempotencyKey: "key-freeform",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, models.MessageStatusQueued, msg.Status)

	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, refreshed.Status)
	assert.Equal(t, ErrCodeWindowClosed, refreshed.LastErrorCode)
	assert.Equal(t, 0, adapter.calls, "policy blocks must never reach the provider")
}

func TestFreeformInsideWindowSends(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	// Customer wrote in an hour ago
	require.NoError(t, o.sessions.RecordInbound("tenant-1", "+15551234567", time.Now().UTC().Add(-time.Hour)))

	msg, _, err := o.Enqueue(EnqueueRequest{
		TenantID:       "tenant-1",
		Channel:        models.ChannelWhatsApp,
		Recipient:      "+15551234567",
		Payload:        map[string]string{"body": "Thanks for reaching out!"},
		IdempotencyKey: "key-freeform",
	})
	require.NoError(t, err)

	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, refreshed.Status)
	assert.Equal(t, 1, adapter.calls)
}

func TestTemplatedSendSkipsWindowGate(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	// Closed window, but an approved template may be sent anytime
	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, refreshed.Status)
	assert.Equal(t, 1, adapter.calls)
}

func TestDispatchWithoutAdapterFails(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store) // no adapters

	msg, _, err := o.Enqueue(EnqueueRequest{
		TenantID:     "tenant-1",
		Channel:      models.ChannelEmail,
		Recipient:    "priya@example.com",
		TemplateCode: "consent_confirmation",
		Payload: map[string]string{
			"name":    "Priya",
			"company": "Acme",
			"link":    "https://example.com/confirm",
		},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	require.NoError(t, o.Dispatch(context.Background(), msg))

	refreshed, err := store.GetOutboundMessage(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, refreshed.Status)
	assert.Equal(t, ErrCodeNoAdapter, refreshed.LastErrorCode)
}

func TestSuccessfulWhatsAppSendRecordsOutbound(t *testing.T) {
	store := storage.NewMemoryStore()
	adapter := &fakeAdapter{channel: models.ChannelWhatsApp, results: []providers.SendResult{successResult()}}
	o := newTestOrchestrator(store, adapter)

	require.NoError(t, o.sessions.RecordInbound("tenant-1", "+15551234567", time.Now().UTC()))

	msg := enqueueTestMessage(t, o, "key-1")
	require.NoError(t, o.Dispatch(context.Background(), msg))

	window, err := store.GetSessionWindow("tenant-1", "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, window.LastOutboundAt)
}

func TestRetryDelayGrows(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(store)

	first := o.retryDelay(1)
	third := o.retryDelay(3)
	assert.Greater(t, third, first)

	// Base delay 30s with 0.2 jitter puts the first retry in [24s, 36s]
	assert.GreaterOrEqual(t, first, 24*time.Second, "first delay must honor the configured base delay")
	assert.LessOrEqual(t, first, 36*time.Second)
}
